package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/stiffinWanjohi/medrelay/internal/api"
	"github.com/stiffinWanjohi/medrelay/internal/classify"
	"github.com/stiffinWanjohi/medrelay/internal/statsstore"
)

const (
	defaultBaseURL = "http://localhost:8080"
	version        = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("MEDRELAY_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := &Client{
		baseURL:  baseURL,
		clientID: os.Getenv("MEDRELAY_CLIENT_ID"),
		http:     &http.Client{Timeout: 30 * time.Second},
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "send":
		err = cmdSend(client, args)
	case "batch":
		err = cmdBatch(client, args)
	case "stream":
		err = cmdStream(client, args)
	case "classify":
		err = cmdClassify(args)
	case "stats":
		err = cmdStats(client)
	case "history":
		err = cmdHistory(client, args)
	case "reset":
		err = cmdReset(client)
	case "health":
		err = cmdHealth(client)
	case "version", "-v", "--version":
		fmt.Printf("medrelayctl version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", fail("Error:"), err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`medrelayctl - Clinical message ingestion CLI

Usage:
  medrelayctl <command> [arguments]

Commands:
  send      Send one message (file path or - for stdin)
  batch     Send several files as one batch
  stream    Stream newline-delimited messages, or fixed chunks with --chunks
  classify  Detect a message's format locally without a server
  stats     Show routing and processing statistics
  history   Show published statistics snapshots
  reset     Zero all statistics
  health    Check service health
  version   Show version information
  help      Show this help message

Environment Variables:
  MEDRELAY_URL        Base URL of the medrelay API (default: http://localhost:8080)
  MEDRELAY_CLIENT_ID  Sent as X-Client-ID for per-client rate limits

Examples:
  medrelayctl send adt_a01.hl7
  medrelayctl batch --concurrency 4 --policy fail_fast *.json
  cat feed.ndjson | medrelayctl stream -
  medrelayctl history --limit 5
`)
}

// Client handles API communication.
type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
}

func (c *Client) do(method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.clientID != "" {
		req.Header.Set(api.ClientIDHeader, c.clientID)
	}
	return c.http.Do(req)
}

// call performs a request and decodes a JSON response into out.
func (c *Client) call(method, path, contentType string, body io.Reader, out any) error {
	resp, err := c.do(method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var errResp map[string]any
		if json.Unmarshal(respBody, &errResp) == nil {
			if msg, ok := errResp["error"].(string); ok {
				return fmt.Errorf("%s (HTTP %d)", msg, resp.StatusCode)
			}
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func readInput(arg string) ([]byte, error) {
	if arg == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(arg)
}

func openInput(arg string) (io.ReadCloser, error) {
	if arg == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(arg)
}

func cmdSend(c *Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("message file required (use - for stdin)")
	}
	payload, err := readInput(args[0])
	if err != nil {
		return err
	}

	var res api.MessageResponse
	if err := c.call(http.MethodPost, "/v1/messages", "application/octet-stream", bytes.NewReader(payload), &res); err != nil {
		return err
	}
	printResult(res)
	return nil
}

func cmdBatch(c *Client, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	concurrency := fs.Int("concurrency", 0, "Max in-flight messages (0 = server default)")
	policy := fs.String("policy", "", "collect_all or fail_fast (default: server setting)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := api.BatchRequest{Concurrency: *concurrency, Policy: *policy}
	files := fs.Args()
	if len(files) == 0 {
		return fmt.Errorf("at least one message file required")
	}

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		req.Messages = append(req.Messages, string(data))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	var resp api.BatchResponse
	if err := c.call(http.MethodPost, "/v1/messages/batch", "application/json", bytes.NewReader(body), &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "File\tType\tResult\tDuration\tError")
	fmt.Fprintln(w, "----\t----\t------\t--------\t-----")
	for i, res := range resp.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2fms\t%s\n", files[i], typeLabel(res.Type), outcome(res.Success), res.DurationMS, res.Error)
	}
	w.Flush()

	fmt.Printf("\n%d succeeded, %d failed\n", resp.Succeeded, resp.Failed)
	if resp.Aborted != "" {
		fmt.Printf("%s %s\n", yellow("Batch aborted:"), resp.Aborted)
	}
	return nil
}

func cmdStream(c *Client, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	chunks := fs.Int("chunks", 0, "Split input into chunks of this many bytes instead of lines")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := "/v1/stream"
	if *chunks > 0 {
		path += "?mode=chunks&size=" + strconv.Itoa(*chunks)
	}
	input := "-"
	if fs.NArg() > 0 {
		input = fs.Arg(0)
	}

	in, err := openInput(input)
	if err != nil {
		return err
	}
	defer in.Close()

	// Streams run until the input ends.
	c.http.Timeout = 0
	resp, err := c.do(http.MethodPost, path, "application/x-ndjson", in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var ok, failed int
	sc := bufio.NewScanner(resp.Body)
	for n := 1; sc.Scan(); n++ {
		var res api.MessageResponse
		if err := json.Unmarshal(sc.Bytes(), &res); err != nil {
			return fmt.Errorf("decode result %d: %w", n, err)
		}
		if res.Success {
			ok++
		} else {
			failed++
		}
		fmt.Printf("%s %-5s %-7s %6d bytes %s\n", dim(fmt.Sprintf("#%d", n)), typeLabel(res.Type), outcome(res.Success), res.Size, res.Error)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	fmt.Printf("\n%d succeeded, %d failed\n", ok, failed)
	return nil
}

func cmdClassify(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("message file required (use - for stdin)")
	}
	payload, err := readInput(args[0])
	if err != nil {
		return err
	}
	t, err := classify.Classify(payload)
	if err != nil {
		return err
	}
	fmt.Println(t)
	return nil
}

func cmdStats(c *Client) error {
	var snap statsstore.Snapshot
	if err := c.call(http.MethodGet, "/v1/stats", "", nil, &snap); err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

func cmdHistory(c *Client, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Number of snapshots to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var resp struct {
		Snapshots []statsstore.Snapshot `json:"snapshots"`
	}
	if err := c.call(http.MethodGet, "/v1/stats/history?limit="+strconv.Itoa(*limit), "", nil, &resp); err != nil {
		return err
	}
	if len(resp.Snapshots) == 0 {
		fmt.Println("No snapshots published")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Time\tProcessed\tErrors\tActive\tStream Bytes")
	fmt.Fprintln(w, "----\t---------\t------\t------\t------------")
	for _, s := range resp.Snapshots {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
			s.Timestamp.Local().Format(time.DateTime),
			s.Processor.MessagesProcessed, s.Processor.ErrorCount, s.Active, s.StreamPosition)
	}
	w.Flush()
	return nil
}

func cmdReset(c *Client) error {
	if err := c.call(http.MethodPost, "/v1/stats/reset", "", nil, nil); err != nil {
		return err
	}
	fmt.Println(success("Statistics reset"))
	return nil
}

func cmdHealth(c *Client) error {
	var resp map[string]string
	if err := c.call(http.MethodGet, "/health", "", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Status: %s\n", success(resp["status"]))
	return nil
}

func printResult(res api.MessageResponse) {
	fmt.Printf("  %s %s\n", bold("ID:      "), res.ID)
	fmt.Printf("  %s %s\n", bold("Type:    "), typeLabel(res.Type))
	fmt.Printf("  %s %s\n", bold("Result:  "), outcome(res.Success))
	fmt.Printf("  %s %.2fms\n", bold("Duration:"), res.DurationMS)
	if res.Error != "" {
		fmt.Printf("  %s %s\n", bold("Error:   "), res.Error)
	}
	if res.Document != nil {
		doc, _ := json.MarshalIndent(res.Document, "  ", "  ")
		fmt.Printf("  %s\n  %s\n", bold("Document:"), doc)
	}
}

func printSnapshot(s statsstore.Snapshot) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Type\tRouted\tFailed")
	fmt.Fprintln(w, "----\t------\t------")

	types := make([]string, 0, len(s.Routed)+len(s.Failed))
	counts := make(map[string][2]uint64)
	for t, n := range s.Routed {
		c := counts[t.String()]
		c[0] = n
		counts[t.String()] = c
	}
	for t, n := range s.Failed {
		c := counts[t.String()]
		c[1] = n
		counts[t.String()] = c
	}
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "%s\t%d\t%d\n", t, counts[t][0], counts[t][1])
	}
	w.Flush()

	fmt.Printf("\nProcessor: %d processed, %d errors, avg %s\n",
		s.Processor.MessagesProcessed, s.Processor.ErrorCount, s.Processor.AverageDuration)
	fmt.Printf("Pipeline:  %d ok, %d failed (%.1f%% success)\n",
		s.Pipeline.SuccessCount, s.Pipeline.FailureCount, s.Pipeline.SuccessRate()*100)
	fmt.Printf("Active:    %d\n", s.Active)
	fmt.Printf("Streamed:  %d bytes\n", s.StreamPosition)
}

