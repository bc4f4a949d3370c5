package handlers

import "github.com/backtesting-org/sitewatch/internal/services"

// Monitor is the part of the site monitor the dashboard API drives
type Monitor interface {
	Sites() []services.Site
	Site(id string) (services.Site, bool)
	Statuses() []services.ViewStatus
	Degraded() bool
	SetAppState(state string) error
	Focus(view string, focused bool) (services.ViewStatus, error)
	Refresh(view string) error
	Unmount(view string) error
}
