package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	service "github.com/okian/resultportal/internal/app"
)

type portalStatus struct {
	Health     map[string]any             `json:"health"`
	Attendance service.AttendanceSettings `json:"attendance"`
}

func newStatusCommand(deps Dependencies, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show portal health and the active attendance policy.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := flags.api(deps)
			if err != nil {
				return err
			}
			health, err := api.Health(cmd.Context())
			if err != nil {
				return err
			}
			settings, err := api.Settings(cmd.Context())
			if err != nil {
				return err
			}

			t := &table{header: []string{"FIELD", "VALUE"}}
			t.add("status", fmt.Sprint(health["status"]))
			t.add("storage", fmt.Sprint(health["storage"]))
			t.add("today", settings.Today)
			t.add("timezone", settings.Timezone)
			t.add("reference", settings.Reference.String())
			t.add("max_distance_km", strconv.FormatFloat(settings.MaxDistanceKm, 'f', 3, 64))
			return render(cmd.OutOrStdout(), flags.format(), portalStatus{Health: health, Attendance: settings}, t)
		},
	}
}
