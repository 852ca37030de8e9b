// gamgui-bench measures session startup and terminal round-trip latency
// against a running gamgui-server. It creates sessions over the REST API,
// optionally exercises each session's websocket with a trivial command,
// and tears everything down again.
//
// Usage:
//
//	gamgui-bench -host http://127.0.0.1:8080 -api-key sk-... -runs 10 -terminal
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type benchReport struct {
	GeneratedAt     time.Time  `json:"generated_at"`
	Host            string     `json:"host"`
	Runs            []benchRun `json:"runs"`
	CreateSummary   summary    `json:"create_summary"`
	TerminalSummary *summary   `json:"terminal_summary,omitempty"`
}

type benchRun struct {
	SessionID  string  `json:"session_id"`
	CreateMs   float64 `json:"create_ms"`
	TerminalMs float64 `json:"terminal_ms,omitempty"`
	Virtual    bool    `json:"virtual"`
}

type summary struct {
	Count int     `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
}

type client struct {
	host   string
	apiKey string
	http   *http.Client
}

func (c *client) do(method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.host+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

type createResponse struct {
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
	WebsocketInfo struct {
		Kubernetes bool `json:"kubernetes"`
	} `json:"websocketInfo"`
}

func (c *client) createSession(name string) (createResponse, time.Duration, error) {
	var out createResponse
	start := time.Now()
	err := c.do("POST", "/sessions", map[string]any{"name": name}, &out)
	return out, time.Since(start), err
}

func (c *client) deleteSession(id string) error {
	return c.do("DELETE", "/sessions/"+id, nil, nil)
}

type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// terminalRoundTrip dials the session websocket, sends a pwd and waits for
// the first output event. Returns the time from connect to first output.
func (c *client) terminalRoundTrip(sessionID string, timeout time.Duration) (time.Duration, error) {
	wsHost := strings.Replace(strings.Replace(c.host, "https://", "wss://", 1), "http://", "ws://", 1)
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s/sessions/%s/ws", wsHost, sessionID), nil)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	start := time.Now()
	conn.SetReadDeadline(time.Now().Add(timeout))

	// connected event first
	var env wsEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		return 0, err
	}

	input, _ := json.Marshal("pwd\n")
	if err := conn.WriteJSON(wsEnvelope{Event: "input", Data: input}); err != nil {
		return 0, err
	}

	for {
		if err := conn.ReadJSON(&env); err != nil {
			return 0, err
		}
		if env.Event == "output" {
			return time.Since(start), nil
		}
		if env.Event == "error" {
			return 0, fmt.Errorf("terminal error: %s", string(env.Data))
		}
	}
}

func summarize(values []float64) summary {
	s := summary{Count: len(values), MinMs: math.MaxFloat64}
	if len(values) == 0 {
		s.MinMs = 0
		return s
	}
	var total float64
	for _, v := range values {
		total += v
		s.MinMs = math.Min(s.MinMs, v)
		s.MaxMs = math.Max(s.MaxMs, v)
	}
	s.AvgMs = total / float64(len(values))
	return s
}

func main() {
	host := flag.String("host", "http://127.0.0.1:8080", "gamgui-server base URL")
	apiKey := flag.String("api-key", os.Getenv("GAMGUI_API_KEY"), "API key")
	runs := flag.Int("runs", 5, "number of sessions to create")
	terminal := flag.Bool("terminal", false, "also measure websocket round-trip per session")
	keep := flag.Bool("keep", false, "leave sessions running after the benchmark")
	jsonOut := flag.String("json", "", "write the full report to this file")
	timeout := flag.Duration("timeout", 30*time.Second, "per-operation timeout")
	flag.Parse()

	c := &client{host: strings.TrimRight(*host, "/"), apiKey: *apiKey, http: &http.Client{Timeout: *timeout}}

	report := benchReport{GeneratedAt: time.Now().UTC(), Host: c.host}
	var createMs, terminalMs []float64

	for i := 0; i < *runs; i++ {
		created, elapsed, err := c.createSession(fmt.Sprintf("bench %d", i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "create session: %v\n", err)
			os.Exit(1)
		}

		run := benchRun{
			SessionID: created.Session.ID,
			CreateMs:  float64(elapsed.Microseconds()) / 1000,
			Virtual:   !created.WebsocketInfo.Kubernetes,
		}
		createMs = append(createMs, run.CreateMs)

		if *terminal {
			rtt, err := c.terminalRoundTrip(created.Session.ID, *timeout)
			if err != nil {
				fmt.Fprintf(os.Stderr, "terminal round-trip (%s): %v\n", created.Session.ID, err)
			} else {
				run.TerminalMs = float64(rtt.Microseconds()) / 1000
				terminalMs = append(terminalMs, run.TerminalMs)
			}
		}

		report.Runs = append(report.Runs, run)
		fmt.Printf("run %d: session=%s create=%.1fms", i+1, run.SessionID, run.CreateMs)
		if run.TerminalMs > 0 {
			fmt.Printf(" terminal=%.1fms", run.TerminalMs)
		}
		fmt.Println()

		if !*keep {
			if err := c.deleteSession(created.Session.ID); err != nil {
				fmt.Fprintf(os.Stderr, "delete session %s: %v\n", created.Session.ID, err)
			}
		}
	}

	report.CreateSummary = summarize(createMs)
	if *terminal {
		ts := summarize(terminalMs)
		report.TerminalSummary = &ts
	}

	fmt.Printf("\ncreate:   avg=%.1fms min=%.1fms max=%.1fms (n=%d)\n",
		report.CreateSummary.AvgMs, report.CreateSummary.MinMs,
		report.CreateSummary.MaxMs, report.CreateSummary.Count)
	if report.TerminalSummary != nil {
		fmt.Printf("terminal: avg=%.1fms min=%.1fms max=%.1fms (n=%d)\n",
			report.TerminalSummary.AvgMs, report.TerminalSummary.MinMs,
			report.TerminalSummary.MaxMs, report.TerminalSummary.Count)
	}

	if *jsonOut != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal report: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*jsonOut, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write report: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("report written to %s\n", *jsonOut)
	}
}
