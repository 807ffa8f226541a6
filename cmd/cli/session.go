package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/anstrom/reconboard/internal/apiclient"
	"github.com/anstrom/reconboard/internal/config"
	"github.com/anstrom/reconboard/internal/dashboard"
	"github.com/anstrom/reconboard/internal/errors"
	"github.com/anstrom/reconboard/internal/logging"
	"github.com/anstrom/reconboard/internal/metrics"
)

// session bundles what a command needs to talk to the API.
type session struct {
	cfg     *config.Config
	client  *apiclient.Client
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics
}

func newSession(cfg *config.Config, logger *logging.Logger, m *metrics.PrometheusMetrics) *session {
	if logger == nil {
		logger = logging.Default()
	}
	return &session{
		cfg:     cfg,
		client:  apiclient.NewFromConfig(cfg, apiclient.WithLogger(logger), apiclient.WithMetrics(m)),
		logger:  logger,
		metrics: m,
	}
}

// newShell creates an unmounted shell over the session's client.
func (s *session) newShell(view dashboard.View) *dashboard.Shell {
	return dashboard.NewShell(s.client, dashboard.ShellOptions{
		Interval:    s.cfg.Polling.Interval,
		InitialView: view,
		Logger:      s.logger,
		Metrics:     s.metrics,
	})
}

func (s *session) newScheduleManager() *dashboard.ScheduleManager {
	return dashboard.NewScheduleManager(s.client, nil, s.logger, s.metrics)
}

// reportedError marks an error whose message has already been printed.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// withSession loads configuration, builds a session and runs fn. Failures are
// printed through handleAPIError.
func withSession(cmd *cobra.Command, operation string, fn func(ctx context.Context, s *session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sess := newSession(cfg, logging.Default(), metrics.GetGlobalMetrics())
	if err := fn(cmd.Context(), sess); err != nil {
		handleAPIError(cmd.ErrOrStderr(), err, operation, cfg.GetBaseURL())
		return &reportedError{err: err}
	}
	return nil
}

// handleAPIError provides user-friendly error handling for API errors
func handleAPIError(w io.Writer, err error, operation, baseURL string) {
	var apiErr *apiclient.APIError
	switch {
	case errors.IsValidation(err):
		fmt.Fprintf(w, "Error: %s\n", validationMessage(err))
	case errors.IsCode(err, errors.CodeConflict):
		fmt.Fprintf(w, "Error: %s failed: %v\n", operation, err)
	case errors.IsCode(err, errors.CodeCanceled):
		fmt.Fprintf(w, "Error: %s canceled\n", operation)
	case errors.IsNetwork(err):
		fmt.Fprintf(w, "Error: could not reach the recon API at %s during %s\n", baseURL, operation)
		fmt.Fprintf(w, "Check api.base_url in the config file or set %s.\n", config.EnvAPIURL)
	case errors.IsMalformed(err):
		fmt.Fprintf(w, "Error: unexpected response from the API during %s: %v\n", operation, err)
	case stderrors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == http.StatusNotFound:
			fmt.Fprintf(w, "Error: Resource not found for %s\n", operation)
		case apiErr.StatusCode == http.StatusUnprocessableEntity || apiErr.StatusCode == http.StatusBadRequest:
			fmt.Fprintf(w, "Error: the API rejected %s: %s\n", operation, apiErr.Message)
		case apiErr.StatusCode >= http.StatusInternalServerError:
			fmt.Fprintf(w, "Error: Server error during %s: %s\n", operation, apiErr.Message)
			if apiErr.RequestID != "" {
				fmt.Fprintf(w, "Please report this issue with request ID: %s\n", apiErr.RequestID)
			}
		default:
			fmt.Fprintf(w, "Error: %s failed: %s\n", operation, apiErr.Message)
		}
	default:
		fmt.Fprintf(w, "Error: %s failed: %v\n", operation, err)
	}
}

func validationMessage(err error) string {
	var clientErr *errors.ClientError
	if stderrors.As(err, &clientErr) {
		return clientErr.Message
	}
	return err.Error()
}
