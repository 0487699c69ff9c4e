package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/store"
)

// dashboardView renders a dashboard for the terminal.
type dashboardView struct {
	*model.Dashboard
}

func (d dashboardView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Troupe %s (updated %s)\n", d.TroupeID, d.LastUpdated.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "  members: %d  events: %d  attendees: %d  avg/event: %d\n",
		d.TotalMembers, d.TotalEvents, d.TotalAttendees, d.AvgAttendeesPerEvent)
	for _, id := range sortedTypeIDs(d.EventTypes) {
		s := d.EventTypes[id]
		fmt.Fprintf(&b, "  %s: %d events (%d%%), %d attendees (%d%%), avg %d\n",
			s.Title, s.TotalEvents, s.EventPercent, s.TotalAttendees, s.AttendeePercent, s.AvgAttendees)
	}
	if len(d.UpcomingBirthdays.Members) > 0 {
		fmt.Fprintf(&b, "  upcoming birthdays (%s):\n", d.UpcomingBirthdays.Frequency)
		for _, m := range d.UpcomingBirthdays.Members {
			fmt.Fprintf(&b, "    %s %s: %s (in %d days)\n", m.FirstName, m.LastName, m.Birthday, m.DaysAway)
		}
	}
	return b.String()
}

// NewDashboardCommand creates the dashboard command.
func NewDashboardCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard <troupe-id>",
		Short: "Show a troupe's last committed dashboard",
		Example: `  stringplay dashboard troupe-1
  stringplay dashboard troupe-1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.store.ReadDashboard(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return WrapExitError(ExitCommandError, "no dashboard (troupe unknown or never synced)", err)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read dashboard", err)
			}
			out := formatter(rootOpts, cmd)
			if out.Format == "json" {
				return out.Success(d)
			}
			return out.Success(dashboardView{d})
		},
	}
}

func sortedTypeIDs(m map[string]model.EventTypeStats) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
