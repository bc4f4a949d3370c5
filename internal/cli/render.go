package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/backtesting-org/sitewatch/internal/services"
	"github.com/backtesting-org/sitewatch/pkg/subscription"
)

const missingReading = "-"

// RenderSites writes the site table followed by one connection line
func RenderSites(w io.Writer, sites []services.Site, status subscription.Status) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Name", "Status", "Flow", "COD", "NH3-N", "Updated")

	for _, site := range sites {
		row := []string{
			site.ID,
			site.Name,
			site.Status,
			reading(site.Flow, 2),
			reading(site.COD, 1),
			reading(site.NH3N, 2),
			site.UpdatedAt.Format(time.TimeOnly),
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	_, err := fmt.Fprintln(w, StatusLine(status))
	return err
}

// StatusLine summarizes a subscription status in one line. Exhausted
// subscriptions always render as DISCONNECTED.
func StatusLine(status subscription.Status) string {
	if status.Exhausted {
		return fmt.Sprintf("DISCONNECTED: live updates lost after %d reconnect attempts", status.Attempts)
	}

	line := status.Target.String()
	switch {
	case !status.Active:
		line += " paused"
	case status.Target.Transport == subscription.TransportSocket:
		line += " " + status.State.String()
	default:
		line += " polling"
	}
	if status.Background {
		line += " (background)"
	}
	if !status.LastUpdated.IsZero() {
		line += " updated " + status.LastUpdated.Format(time.TimeOnly)
	}
	if status.LastError != nil {
		line += " error: " + status.LastError.Error()
	}
	return line
}

func reading(value decimal.NullDecimal, places int32) string {
	if !value.Valid {
		return missingReading
	}
	return value.Decimal.StringFixed(places)
}
