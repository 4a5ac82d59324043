package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcserver "github.com/autopeer-io/groundlink/internal/groundlink/server/grpc"
	httpserver "github.com/autopeer-io/groundlink/internal/groundlink/server/http"
	"github.com/autopeer-io/groundlink/internal/link/liveness"
	mw "github.com/autopeer-io/groundlink/internal/pkg/middleware/grpc"
)

type statusOptions struct {
	httpAddr string
	grpcAddr string
	timeout  time.Duration
}

func newStatusCommand() *cobra.Command {
	o := &statusOptions{
		httpAddr: "127.0.0.1:8480",
		timeout:  5 * time.Second,
	}
	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Print the state of a running groundlink",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()
			return o.run(ctx, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&o.httpAddr, "http-addr", o.httpAddr, "Address of the groundlink HTTP API.")
	cmd.Flags().StringVar(&o.grpcAddr, "grpc-addr", o.grpcAddr, "Address of the groundlink gRPC health service. Empty skips the check.")
	cmd.Flags().DurationVar(&o.timeout, "timeout", o.timeout, "Overall timeout of the status queries.")
	return cmd
}

func (o *statusOptions) run(ctx context.Context, out io.Writer) error {
	st, err := fetchStatus(ctx, &http.Client{Timeout: o.timeout}, "http://"+o.httpAddr+"/v1/status")
	if err != nil {
		return err
	}

	health := "-"
	if o.grpcAddr != "" {
		if health, err = checkHealth(ctx, o.grpcAddr, o.timeout); err != nil {
			health = "error: " + err.Error()
		}
	}

	_, err = fmt.Fprintln(out, statusTable(st, health))
	return err
}

func fetchStatus(ctx context.Context, client *http.Client, url string) (httpserver.StatusResponse, error) {
	var st httpserver.StatusResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return st, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return st, fmt.Errorf("query %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("query %s: %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

func checkHealth(ctx context.Context, addr string, timeout time.Duration) (string, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(mw.UnaryClientTimeout(timeout)))
	if err != nil {
		return "", err
	}
	defer func() { _ = conn.Close() }()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcserver.LinkService})
	if err != nil {
		return "", err
	}
	return resp.GetStatus().String(), nil
}

func statusTable(st httpserver.StatusResponse, health string) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 60

	table.AddRow("LINK", st.LinkID)
	table.AddRow("PHASE", st.Phase)
	table.AddRow("READY", st.Ready)
	table.AddRow("LINK AVAILABLE", st.LinkAvailable)
	table.AddRow("LOADING", st.Loading)
	table.AddRow("SAVING", st.Saving)
	table.AddRow("HEALTH", health)

	cmd := string(st.CommandState)
	if st.CommandID != 0 {
		cmd = fmt.Sprintf("%s (id %d, retry %d)", st.CommandState, st.CommandID, st.CommandRetry)
	}
	table.AddRow("COMMAND", cmd)
	table.AddRow("PARAMETERS", fmt.Sprintf("%d/%d", st.Parameters.Received, st.Parameters.Total))
	table.AddRow("BATTERY", fmt.Sprintf("%.2f V, %d%%", st.Telemetry.BatteryVoltage, st.Telemetry.BatteryRemaining))
	table.AddRow("GPS", fmt.Sprintf("fix %d, %d sats", st.Telemetry.GPSFix, st.Telemetry.Satellites))

	kinds := make([]string, 0, len(st.Liveness))
	for k := range st.Liveness {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		age := st.Liveness[liveness.Kind(k)]
		text := "never"
		if age != liveness.Never {
			text = age.Round(time.Millisecond).String()
		}
		table.AddRow("AGE "+k, text)
	}
	return table
}
