package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/bytedance/sonic"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/xid"
)

var (
	functionName   string
	region         string
	numberOfEvents int
	concurrency    int
	invalidRatio   float64
	invokeTimeout  time.Duration
	currentPattern WorkloadPattern
)

func init() {
	functionName = getEnv("FUNCTION_NAME", "")
	if functionName == "" {
		fmt.Fprintf(os.Stderr, "ERROR: FUNCTION_NAME environment variable is required\n")
		os.Exit(1)
	}

	region = getEnv("AWS_REGION", "us-east-1")
	numberOfEvents = getEnvInt("LOAD_TEST_EVENTS", 500)
	concurrency = getEnvInt("LOAD_TEST_CONCURRENCY", 10)
	invalidRatio = getEnvFloat("LOAD_TEST_INVALID_RATIO", 0.05)
	invokeTimeout = time.Duration(getEnvInt("LOAD_TEST_TIMEOUT_SECONDS", 30)) * time.Second
	currentPattern = WorkloadPattern(getEnv("LOAD_TEST_PATTERN", "steady"))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

type WorkloadPattern string

const (
	PatternSteady WorkloadPattern = "steady"
	PatternBurst  WorkloadPattern = "burst"
	PatternWave   WorkloadPattern = "wave"
)

type event struct {
	Body string `json:"body"`
}

type invokeResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

type responseBody struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Error   string `json:"error"`
}

type Result struct {
	Index      int
	Duration   time.Duration
	Valid      bool // false when the event was deliberately malformed
	StatusCode int
	ID         string
	Error      string
}

// a malformed event must come back as a 500, a valid one as a 200
func (r Result) Expected() bool {
	if r.Error != "" && r.StatusCode == 0 {
		return false
	}
	if r.Valid {
		return r.StatusCode == 200
	}
	return r.StatusCode == 500
}

type model struct {
	spinner      spinner.Model
	progress     progress.Model
	total        int
	done         int
	ok           int
	rejected     int
	unexpected   int
	duplicateIDs int
	ids          map[string]struct{}
	errors       []string
	minLatency   time.Duration
	maxLatency   time.Duration
	sumLatency   time.Duration
	startTime    time.Time
	isComplete   bool
	width        int
}

type resultMsg Result
type completeMsg struct{}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).Background(lipgloss.Color("235")).Padding(0, 1).MarginBottom(1)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	valueStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(1, 2).MarginBottom(1)
)

func initialModel() model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		spinner:   s,
		progress:  progress.New(progress.WithDefaultGradient()),
		total:     numberOfEvents,
		ids:       make(map[string]struct{}, numberOfEvents),
		startTime: time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case resultMsg:
		m.record(Result(msg))
		return m, nil

	case completeMsg:
		m.isComplete = true
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *model) record(r Result) {
	m.done++

	if m.done == 1 || r.Duration < m.minLatency {
		m.minLatency = r.Duration
	}
	if r.Duration > m.maxLatency {
		m.maxLatency = r.Duration
	}
	m.sumLatency += r.Duration

	if !r.Expected() {
		m.unexpected++
		m.errors = append([]string{fmt.Sprintf("#%d status=%d %s", r.Index, r.StatusCode, r.Error)}, m.errors...)
		if len(m.errors) > 5 {
			m.errors = m.errors[:5]
		}
		return
	}

	if r.StatusCode != 200 {
		m.rejected++
		return
	}

	m.ok++
	if _, dup := m.ids[r.ID]; dup {
		m.duplicateIDs++
	}
	m.ids[r.ID] = struct{}{}
}

func (m model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Item Ingest Load Generator") + "\n")

	pct := float64(m.done) / float64(max(m.total, 1))
	status := fmt.Sprintf("Progress: %d/%d events (%.1f%%)", m.done, m.total, pct*100)
	if m.isComplete {
		status = "✓ " + status
	} else {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(status + "\n" + m.progress.ViewAs(pct) + "\n\n")

	var avg time.Duration
	if m.done > 0 {
		avg = m.sumLatency / time.Duration(m.done)
	}
	elapsed := time.Since(m.startTime)

	stats := fmt.Sprintf(
		"%s %s\n%s %s\n%s %s\n%s %s\n%s %s\n\n%s %s / %s / %s\n%s %s ev/s\n\n%s %s  %s %s  %s %s",
		labelStyle.Render("Function:"), valueStyle.Render(functionName),
		labelStyle.Render("Accepted (200):"), successStyle.Render(strconv.Itoa(m.ok)),
		labelStyle.Render("Rejected as expected (500):"), valueStyle.Render(strconv.Itoa(m.rejected)),
		labelStyle.Render("Unexpected:"), errorStyle.Render(strconv.Itoa(m.unexpected)),
		labelStyle.Render("Duplicate ids:"), errorStyle.Render(strconv.Itoa(m.duplicateIDs)),
		labelStyle.Render("Latency min/avg/max:"),
		valueStyle.Render(m.minLatency.Round(time.Millisecond).String()),
		valueStyle.Render(avg.Round(time.Millisecond).String()),
		valueStyle.Render(m.maxLatency.Round(time.Millisecond).String()),
		labelStyle.Render("Throughput:"), valueStyle.Render(fmt.Sprintf("%.2f", float64(m.done)/math.Max(elapsed.Seconds(), 0.001))),
		labelStyle.Render("Pattern:"), valueStyle.Render(string(currentPattern)),
		labelStyle.Render("Workers:"), valueStyle.Render(strconv.Itoa(concurrency)),
		labelStyle.Render("Invalid ratio:"), valueStyle.Render(fmt.Sprintf("%.0f%%", invalidRatio*100)),
	)
	b.WriteString(boxStyle.Width(84).Render(stats) + "\n")

	if len(m.errors) > 0 {
		var e strings.Builder
		e.WriteString(errorStyle.Render("⚠ Recent unexpected results:") + "\n\n")
		for _, line := range m.errors {
			e.WriteString("  " + errorStyle.Render("•") + " " + line + "\n")
		}
		b.WriteString(boxStyle.Width(84).Render(e.String()) + "\n")
	}

	if m.isComplete {
		b.WriteString(successStyle.Render("✓ Test complete! Press 'q' to quit"))
	} else {
		b.WriteString(labelStyle.Render("Press 'q' to quit"))
	}
	return b.String()
}

func eventDelay(pattern WorkloadPattern, index, total int, rng *rand.Rand) time.Duration {
	pos := float64(index) / float64(max(total, 1))

	switch pattern {
	case PatternBurst:
		if pos < 0.3 || (pos > 0.5 && pos < 0.6) || (pos > 0.8 && pos < 0.9) {
			return time.Duration(rng.Intn(5)) * time.Millisecond
		}
		return time.Duration(50+rng.Intn(100)) * time.Millisecond
	case PatternWave:
		intensity := (1 + math.Sin(pos*6*math.Pi)) / 2
		return time.Duration(5+int(intensity*195)+rng.Intn(10)) * time.Millisecond
	default:
		return time.Duration(10+rng.Intn(5)) * time.Millisecond
	}
}

func generatePayload(rng *rand.Rand, index int) map[string]any {
	priorities := []string{"low", "normal", "high"}
	channels := []string{"web", "mobile", "partner", "batch"}

	return map[string]any{
		"ref":      xid.New().String(),
		"sequence": index,
		"customer": fmt.Sprintf("customer-%04d", rng.Intn(10000)),
		"amount":   rng.Intn(100000),
		"priority": priorities[rng.Intn(len(priorities))],
		"channel":  channels[rng.Intn(len(channels))],
		"sentAt":   time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func buildEvent(rng *rand.Rand, index int) (event, bool, error) {
	if rng.Float64() < invalidRatio {
		return event{Body: "Invalid base64"}, false, nil
	}

	data, err := sonic.Marshal(generatePayload(rng, index))
	if err != nil {
		return event{}, true, err
	}
	return event{Body: base64.StdEncoding.EncodeToString(data)}, true, nil
}

func invoke(ctx context.Context, client *lambdasvc.Client, rng *rand.Rand, index int) Result {
	ev, valid, err := buildEvent(rng, index)
	if err != nil {
		return Result{Index: index, Valid: valid, Error: fmt.Sprintf("build event: %v", err)}
	}

	payload, err := sonic.Marshal(ev)
	if err != nil {
		return Result{Index: index, Valid: valid, Error: fmt.Sprintf("encode event: %v", err)}
	}

	invokeCtx, cancel := context.WithTimeout(ctx, invokeTimeout)
	defer cancel()

	start := time.Now()
	out, err := client.Invoke(invokeCtx, &lambdasvc.InvokeInput{
		FunctionName: aws.String(functionName),
		Payload:      payload,
	})
	duration := time.Since(start)

	if err != nil {
		return Result{Index: index, Duration: duration, Valid: valid, Error: err.Error()}
	}
	if out.FunctionError != nil {
		return Result{Index: index, Duration: duration, Valid: valid, Error: "function error: " + aws.ToString(out.FunctionError)}
	}

	var resp invokeResponse
	if err := sonic.Unmarshal(out.Payload, &resp); err != nil {
		return Result{Index: index, Duration: duration, Valid: valid, Error: fmt.Sprintf("decode response: %v", err)}
	}

	var body responseBody
	if err := sonic.UnmarshalString(resp.Body, &body); err != nil {
		return Result{Index: index, Duration: duration, Valid: valid, StatusCode: resp.StatusCode, Error: fmt.Sprintf("decode response body: %v", err)}
	}

	return Result{
		Index:      index,
		Duration:   duration,
		Valid:      valid,
		StatusCode: resp.StatusCode,
		ID:         body.ID,
		Error:      body.Error,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Unable to load SDK config: %v\n", err)
		os.Exit(1)
	}
	client := lambdasvc.NewFromConfig(cfg)

	p := tea.NewProgram(initialModel(), tea.WithAltScreen())

	go func() {
		jobs := make(chan int, numberOfEvents)
		for i := 0; i < numberOfEvents; i++ {
			jobs <- i
		}
		close(jobs)

		var wg sync.WaitGroup
		for w := 0; w < concurrency; w++ {
			wg.Add(1)
			go func(workerID int) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

				for index := range jobs {
					select {
					case <-ctx.Done():
						return
					case <-time.After(eventDelay(currentPattern, index, numberOfEvents, rng)):
					}
					p.Send(resultMsg(invoke(ctx, client, rng, index)))
				}
			}(w)
		}

		wg.Wait()
		p.Send(completeMsg{})
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
