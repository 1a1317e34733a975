package observability

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[96m"
	colorPink   = "\033[95m"
	colorYellow = "\033[93m"
)

var spinnerFrames = []string{"◐", "◓", "◑", "◒"}
var spinnerIdx = 0

// termMu serializes all terminal output so a log write never lands in the
// middle of the dashboard's cursor save/restore sequence.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type termWriter struct{}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer suitable for log.SetOutput().
// It serialises writes with PrintLiveStatus via termMu.
func NewTermWriter() *termWriter {
	return &termWriter{}
}

func PrintBanner(name string) {
	fmt.Print("\033[2J\033[H")

	banner := `
   __  ______   ____________________  ____
  /  |/  / _ | / __/ __/_  __/ __ \/ __ \
 / /|_/ / __ |/ _/_\ \  / / / /_/ / /_/ /
/_/  /_/_/ |_/___/___/ /_/  \____/\____/
`
	width := termWidth()
	lines := strings.Split(banner, "\n")
	lines = append(lines, fmt.Sprintf(">> %s : conductor / planner / worker <<", strings.ToUpper(name)))

	for _, l := range lines {
		padding := clamp((width-len(l))/2, 0, width)
		fmt.Printf("%s%s%s\n", strings.Repeat(" ", padding), colorCyan+l, colorReset)
	}
}

func InitializeTerminal() {
	// rows 1-9 banner, row 10 dashboard, logs scroll from row 12
	fmt.Print("\033[12;r")
	fmt.Print("\033[12;1H")
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

func roleStyle(role Role) (string, string) {
	switch role {
	case RoleConductor:
		return "🎯", colorCyan
	case RolePlanner:
		return "📋", colorYellow
	case RoleWorker:
		return "⚙️", colorPink
	case RoleScheduler:
		return "⏰", colorPurple
	}
	return "💤", colorReset
}

// PrintLiveStatus redraws the one-line dashboard on row 10.
func PrintLiveStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	role, task, inFlight, lastHB := GetStatus()

	pulse, pulseColor := "OFFLINE", colorPink
	switch delta := time.Since(lastHB); {
	case delta < 40*time.Second:
		pulse, pulseColor = "HEALTHY", colorCyan
	case delta < 90*time.Second:
		pulse, pulseColor = "LAGGING", colorPurple
	}

	icon, roleColor := roleStyle(role)

	spin := " "
	if role != RoleIdle {
		spin = spinnerFrames[spinnerIdx]
		spinnerIdx = (spinnerIdx + 1) % len(spinnerFrames)
	}

	if task == "" {
		task = "Waiting..."
	}
	if len(task) > 28 {
		task = task[:25] + "..."
	}

	memMB := float64(m.Alloc) / 1024 / 1024
	sysMB := float64(m.Sys) / 1024 / 1024
	const barWidth = 16
	filled := clamp(int(memMB/sysMB*barWidth), 0, barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("▒", barWidth-filled)

	line := fmt.Sprintf(
		"\033[s\033[10;1H\033[K%s%s%s | %s%s %-9s%s %s%s%s [%s] req:%d up:%v [%s %.1fMB]\033[u",
		pulseColor, pulse, colorReset,
		roleColor, icon, role, colorReset,
		colorPurple, spin, colorReset,
		task, inFlight,
		time.Since(startTime).Round(time.Second),
		bar, memMB,
	)

	termMu.Lock()
	fmt.Print(line)
	termMu.Unlock()
}
