package probe

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Renderer writes operator-facing probe output. Colours are only emitted when
// the writer is a terminal.
type Renderer struct {
	w         io.Writer
	okStyle   lipgloss.Style
	errStyle  lipgloss.Style
	noteStyle lipgloss.Style
	hintStyle lipgloss.Style
	ruleStyle lipgloss.Style
}

// NewRenderer creates a renderer for w.
func NewRenderer(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{
		w:         w,
		okStyle:   r.NewStyle().Foreground(lipgloss.Color("#87d7af")).Bold(true),
		errStyle:  r.NewStyle().Foreground(lipgloss.Color("#ff5f5f")).Bold(true),
		noteStyle: r.NewStyle().Foreground(lipgloss.Color("#ffd700")),
		hintStyle: r.NewStyle().Foreground(lipgloss.Color("#5fafff")),
		ruleStyle: r.NewStyle().Foreground(lipgloss.Color("#808080")),
	}
}

// Availability prints the hardware check for res.
func (r *Renderer) Availability(res Result, thresholdGB float64) {
	r.line(r.ruleStyle.Render("--- RUNTIME HARDWARE CHECK ---"))

	if !res.Available {
		r.line(r.errStyle.Render("❌ ERROR: No GPU detected by the runtime!"))
		r.line(r.hintStyle.Render("💡 Hint: Check that the container was started with '--gpus all' or the GPU override file."))
		return
	}

	r.line(r.okStyle.Render("✓ SUCCESS:") + " Found GPU: " + res.DeviceName)
	r.line(fmt.Sprintf("  Total VRAM: %.2f GB", res.MemoryGB()))
	if res.DriverVersion != "" {
		r.line("  Driver Version: " + res.DriverVersion)
	}
	if res.CUDAVersion != "" {
		r.line("  CUDA Version: " + res.CUDAVersion)
	}

	if res.LowVRAM {
		r.line(r.noteStyle.Render(fmt.Sprintf(
			"⚠ NOTE: Low VRAM (< %g GB). Use small batch sizes to avoid out-of-memory errors.", thresholdGB)))
	}

	r.line(r.ruleStyle.Render("------------------------------"))
}

// QueryFailure prints the raw runtime error of an unguarded availability query.
func (r *Renderer) QueryFailure(err error) {
	r.line(r.errStyle.Render("❌ ERROR: Failed to query device properties"))
	r.line("   " + err.Error())
}

// Health prints a single status line for a smoke test outcome.
func (r *Renderer) Health(err error, matrixSize int) {
	if err == nil {
		r.line(r.okStyle.Render("✓ GPU healthy:") + fmt.Sprintf(" %dx%d matmul completed", matrixSize, matrixSize))
		return
	}
	r.line(r.errStyle.Render("✗ GPU unhealthy:") + " " + string(KindOf(err)))
}

func (r *Renderer) line(s string) {
	fmt.Fprintln(r.w, s)
}
