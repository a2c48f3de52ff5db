package querypilot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type remoteOptions struct {
	baseURL string
	timeout time.Duration
}

type remoteAskOptions struct {
	table    string
	files    []string
	objects  []string
	rowLimit int
}

func newRemoteCommand(a *app) *cobra.Command {
	opts := &remoteOptions{}
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Talk to a running querypilot API",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return usagef("a remote command is required")
		},
	}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "API base URL (default: $QUERYPILOT_API_URL or http://localhost:8080)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "HTTP timeout (default 60s)")

	cmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "GET /v1/health",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return remoteGet(cmd, a, opts, "/v1/health")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "ready",
		Short: "GET /v1/ready",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return remoteGet(cmd, a, opts, "/v1/ready")
		},
	})

	askOpts := &remoteAskOptions{}
	ask := &cobra.Command{
		Use:   "ask [QUESTION...]",
		Short: "POST /v1/ask with local database files",
		Args:  usageArgs(cobra.ArbitraryArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return remoteAsk(cmd, a, opts, askOpts, strings.Join(args, " "))
		},
	}
	ask.Flags().StringVarP(&askOpts.table, "table", "t", "", "Table to describe for the model")
	ask.Flags().StringSliceVarP(&askOpts.files, "db", "d", nil, "Local database file to upload (repeatable)")
	ask.Flags().StringSliceVar(&askOpts.objects, "object", nil, "Object store key known to the server (repeatable)")
	ask.Flags().IntVar(&askOpts.rowLimit, "row-limit", 0, "Maximum rows fetched per database")
	cmd.AddCommand(ask)
	return cmd
}

func (a *app) httpClient(opts *remoteOptions) *http.Client {
	if a.opts.HTTPClient != nil {
		return a.opts.HTTPClient
	}
	timeout := opts.timeout
	if timeout <= 0 {
		timeout = a.opts.Timeout
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (a *app) endpoint(opts *remoteOptions, path string) string {
	base := strings.TrimSpace(opts.baseURL)
	if base == "" {
		if fromEnv, ok := a.opts.Lookup("QUERYPILOT_API_URL"); ok {
			base = strings.TrimSpace(fromEnv)
		}
	}
	if base == "" {
		base = a.opts.BaseURL
	}
	if base == "" {
		base = "http://localhost:8080"
	}
	return strings.TrimRight(base, "/") + path
}

func remoteGet(cmd *cobra.Command, a *app, opts *remoteOptions, path string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, a.endpoint(opts, path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	code, body, err := doRequest(a.httpClient(opts), req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return printResponse(cmd, code, body)
}

func remoteAsk(cmd *cobra.Command, a *app, opts *remoteOptions, askOpts *remoteAskOptions, question string) error {
	if strings.TrimSpace(askOpts.table) == "" {
		return usagef("--table is required")
	}
	if len(askOpts.files)+len(askOpts.objects) == 0 {
		return usagef("at least one database is required (--db or --object)")
	}

	body, contentType, err := buildAskForm(question, askOpts)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, a.endpoint(opts, "/v1/ask"), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	code, raw, err := doRequest(a.httpClient(opts), req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if err := printResponse(cmd, code, raw); err != nil {
		return err
	}
	var summary struct {
		Failures int `json:"failures"`
	}
	if err := json.Unmarshal(raw, &summary); err == nil && summary.Failures > 0 {
		return errFailures
	}
	return nil
}

func buildAskForm(question string, opts *remoteAskOptions) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fields := map[string]string{
		"question": question,
		"table":    strings.TrimSpace(opts.table),
	}
	if len(opts.objects) > 0 {
		fields["object_keys"] = strings.Join(opts.objects, ",")
	}
	if opts.rowLimit > 0 {
		fields["row_limit"] = strconv.Itoa(opts.rowLimit)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}
	for _, path := range opts.files {
		if err := attachFile(writer, path); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

func attachFile(writer *multipart.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()
	part, err := writer.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}

func doRequest(client *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// printResponse writes the body to stdout, or to stderr with errFailures
// for HTTP error statuses.
func printResponse(cmd *cobra.Command, code int, body []byte) error {
	if code >= 400 {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "http %d: %s\n", code, strings.TrimSpace(string(body)))
		return errFailures
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), pretty)
		return nil
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(body))
	}
	return nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}
