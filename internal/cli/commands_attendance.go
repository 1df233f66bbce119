package cli

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	service "github.com/okian/resultportal/internal/app"
	"github.com/okian/resultportal/internal/client"
	"github.com/okian/resultportal/internal/domain/attendance"
	"github.com/okian/resultportal/internal/domain/geo"
)

// attendanceFlags collects the request flags shared by check and mark.
type attendanceFlags struct {
	req      service.AttendanceRequest
	lat, lon float64
}

func (a *attendanceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.req.Status, "status", "", "present, absent, half_day or leave. [required]")
	cmd.Flags().Float64Var(&a.lat, "lat", 0, "Latitude in decimal degrees.")
	cmd.Flags().Float64Var(&a.lon, "lon", 0, "Longitude in decimal degrees.")
	cmd.Flags().StringVar(&a.req.LocationError, "location-error", "", "Why no location is available, e.g. permission_denied.")
	_ = cmd.MarkFlagRequired("status")
}

func (a *attendanceFlags) request(cmd *cobra.Command) (service.AttendanceRequest, error) {
	latSet, lonSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lon")
	if latSet != lonSet {
		return service.AttendanceRequest{}, errors.New("--lat and --lon must be given together")
	}
	req := a.req
	if latSet {
		req.Location = &geo.Coordinate{Lat: a.lat, Lon: a.lon}
	}
	return req, nil
}

func verdictRows(t *table, v attendance.Verdict) {
	t.add("eligible", strconv.FormatBool(v.Eligible))
	if v.Measured {
		t.add("distance_km", strconv.FormatFloat(v.DistanceKm, 'f', 3, 64))
	}
	if v.Reason != "" {
		t.add("reason", string(v.Reason))
	}
}

func newCheckCommand(deps Dependencies, flags *globalFlags) *cobra.Command {
	af := &attendanceFlags{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Preview whether an attendance mark would be accepted; nothing is recorded.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := af.request(cmd)
			if err != nil {
				return err
			}
			api, err := flags.api(deps)
			if err != nil {
				return err
			}
			res, err := api.CheckAttendance(cmd.Context(), req)
			if err != nil {
				return err
			}

			t := &table{header: []string{"FIELD", "VALUE"}}
			t.add("status", string(res.Status))
			verdictRows(t, res.Verdict)
			t.add("max_distance_km", strconv.FormatFloat(res.MaxDistanceKm, 'f', 3, 64))
			if res.LocationError != "" {
				t.add("location_error", res.LocationError)
			}
			if err := render(cmd.OutOrStdout(), flags.format(), res, t); err != nil {
				return err
			}
			if !res.Verdict.Eligible {
				return &exitError{code: 3}
			}
			return nil
		},
	}
	af.register(cmd)
	return cmd
}

func newMarkCommand(deps Dependencies, flags *globalFlags) *cobra.Command {
	af := &attendanceFlags{}
	cmd := &cobra.Command{
		Use:   "mark",
		Short: "Record today's attendance for the logged in teacher.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := af.request(cmd)
			if err != nil {
				return err
			}
			api, err := flags.api(deps)
			if err != nil {
				return err
			}
			rec, err := api.MarkAttendance(cmd.Context(), req)
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Verdict != nil {
				t := &table{header: []string{"FIELD", "VALUE"}}
				t.add("refused", apiErr.Message)
				verdictRows(t, *apiErr.Verdict)
				if err := render(cmd.OutOrStdout(), flags.format(), apiErr.Verdict, t); err != nil {
					return err
				}
				return &exitError{code: 3}
			}
			if err != nil {
				return err
			}

			t := &table{header: []string{"FIELD", "VALUE"}}
			t.add("id", rec.ID)
			t.add("date", rec.Date)
			t.add("status", string(rec.Status))
			t.add("reason", string(rec.Reason))
			if rec.DistanceKm != nil {
				t.add("distance_km", strconv.FormatFloat(*rec.DistanceKm, 'f', 3, 64))
			}
			if rec.Remarks != "" {
				t.add("remarks", rec.Remarks)
			}
			return render(cmd.OutOrStdout(), flags.format(), rec, t)
		},
	}
	af.register(cmd)
	cmd.Flags().StringVar(&af.req.Remarks, "remarks", "", "Free-text note stored with the mark.")
	return cmd
}
