// Package viewer hosts a space in the terminal: a bubbletea program that
// drives the composer at 60 Hz and draws the room from above.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/watashi-museum/museum/internal/editor"
	"github.com/watashi-museum/museum/internal/gallery"
	"github.com/watashi-museum/museum/internal/movement"
	"github.com/watashi-museum/museum/internal/queue"
	"github.com/watashi-museum/museum/internal/slideshow"
	"github.com/watashi-museum/museum/internal/touch"
	"github.com/watashi-museum/museum/pkg/core"
)

// FrameInterval is the render loop period.
const FrameInterval = time.Second / 60

const (
	// Terminals report held keys as auto-repeated presses. A key counts as
	// held until keyHold after its last press.
	keyHold = 250 * time.Millisecond

	// cellPixels converts terminal cells to the pixel units the movement
	// controller and touch adapter expect.
	cellPixels = 8

	// editReach is how close a frame must be for e to open it.
	editReach = 6.0

	saveTimeout = 30 * time.Second

	maxNotices = 3

	mapWidth  = 41
	mapHeight = 21

	touchID = 1
)

var keyCodes = map[string]string{
	"w":     movement.KeyW,
	"a":     movement.KeyA,
	"s":     movement.KeyS,
	"d":     movement.KeyD,
	"up":    movement.KeyArrowUp,
	"down":  movement.KeyArrowDown,
	"left":  movement.KeyArrowLeft,
	"right": movement.KeyArrowRight,
}

var (
	hudStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f0c674"))
	mapStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#707880"))
	panelStyle  = lipgloss.NewStyle().Padding(0, 1)
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8abeb7"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
	editStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("#cc6666")).Padding(0, 1)
)

const help = "wasd/arrows move · drag look · right-drag stick · p slideshow · e edit · esc cancel · q quit"

// Dependencies holds the viewer's collaborators. Composer and Controller are
// required; Editor is only needed in edit mode.
type Dependencies struct {
	SpaceID    string
	Composer   *gallery.Composer
	Controller *movement.Controller
	Editor     *editor.Editor
	Logger     *slog.Logger
	Now        func() time.Time
}

type tickMsg time.Time

type savedMsg struct {
	slot string
	err  error
}

// Model is the bubbletea model of one space.
type Model struct {
	deps    Dependencies
	touch   *touch.Adapter
	held    map[string]time.Time // key code -> release deadline
	last    time.Time
	notices *queue.Queue[string]

	title   string
	rotated bool
	saving  bool
}

// New creates the model.
func New(deps Dependencies) *Model {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Model{
		deps:    deps,
		touch:   touch.New(80*cellPixels, deps.Controller),
		held:    make(map[string]time.Time),
		notices: queue.NewBounded[string](maxNotices),
	}
}

// Init starts the frame ticker.
func (m *Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(FrameInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles one message.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.step(time.Time(msg))
		return m, tick()
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	case tea.MouseMsg:
		m.handleMouse(msg)
	case tea.WindowSizeMsg:
		m.touch.Resize(float64(msg.Width * cellPixels))
	case savedMsg:
		m.saving = false
		if msg.err != nil {
			m.notify("Save failed: " + msg.err.Error())
			return m, nil
		}
		m.notify("Saved " + msg.slot)
		m.deps.Composer.CloseEditor()
	}
	return m, nil
}

// step advances the scene to now.
func (m *Model) step(now time.Time) {
	dt := FrameInterval
	if !m.last.IsZero() {
		dt = now.Sub(m.last)
	}
	m.last = now

	for code, until := range m.held {
		if !now.Before(until) {
			m.deps.Controller.KeyUp(code)
			delete(m.held, code)
		}
	}
	m.deps.Composer.Frame(dt)
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if slot, ok := m.deps.Composer.Editing(); ok {
		return m.editKey(slot, msg)
	}

	switch key := msg.String(); key {
	case "ctrl+c", "q":
		return tea.Quit
	case "p":
		m.toggleSlideshow()
	case "esc":
		if m.deps.Composer.Mode() == slideshow.Slideshow {
			m.deps.Composer.CancelSlideshow()
			m.notify("Slideshow stopped")
		}
	case "e":
		m.openEditor()
	default:
		if code, ok := keyCodes[key]; ok {
			m.deps.Controller.KeyDown(code)
			m.held[code] = m.deps.Now().Add(keyHold)
		}
	}
	return nil
}

func (m *Model) toggleSlideshow() {
	switch m.deps.Composer.ToggleSlideshow() {
	case slideshow.Slideshow:
		m.releaseKeys()
		m.notify("Slideshow started")
	default:
		if len(m.deps.Composer.Targets()) == 0 {
			m.notify("Nothing to show yet")
			return
		}
		m.notify("Slideshow stopped")
	}
}

func (m *Model) openEditor() {
	if !m.deps.Composer.EditMode() {
		m.notify("Open the space in edit mode to curate it")
		return
	}
	slot, ok := m.deps.Composer.NearestSlot(editReach)
	if !ok {
		m.notify("Face a frame to edit it")
		return
	}
	if err := m.deps.Composer.OpenEditor(slot.ID); err != nil {
		m.notify(err.Error())
		return
	}
	m.releaseKeys()
	rec := m.deps.Composer.Frames()[slot.ID]
	m.title, m.rotated = rec.Title, rec.IsRotated
}

func (m *Model) editKey(slot string, msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyCtrlC:
		return tea.Quit
	case tea.KeyEsc:
		m.deps.Composer.CloseEditor()
	case tea.KeyEnter:
		if m.saving {
			return nil
		}
		m.saving = true
		return m.save(slot)
	case tea.KeyBackspace:
		if r := []rune(m.title); len(r) > 0 {
			m.title = string(r[:len(r)-1])
		}
	case tea.KeyCtrlR:
		m.rotated = !m.rotated
	case tea.KeySpace:
		m.title += " "
	case tea.KeyRunes:
		m.title += string(msg.Runes)
	}
	return nil
}

// save keeps the picture and description already on the frame; new pictures
// come in through the frame set command.
func (m *Model) save(slot string) tea.Cmd {
	rec := m.deps.Composer.Frames()[slot]
	req := editor.Request{
		SlotID:      slot,
		Title:       m.title,
		Description: rec.Description,
		ImageURL:    rec.ImageURL,
		IsRotated:   m.rotated,
	}
	ed := m.deps.Editor
	return func() tea.Msg {
		if ed == nil {
			return savedMsg{slot: slot, err: editor.ErrNotConfigured}
		}
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		_, err := ed.Save(ctx, req)
		return savedMsg{slot: slot, err: err}
	}
}

// handleMouse maps the left button to pointer drag-look and the right button
// to a single touch contact, which steers the virtual stick on the left half
// of the terminal and looks on the right half.
func (m *Model) handleMouse(msg tea.MouseMsg) {
	x, y := float64(msg.X*cellPixels), float64(msg.Y*cellPixels)
	t := touch.Touch{ID: touchID, X: x, Y: y}

	switch msg.Action {
	case tea.MouseActionPress:
		switch msg.Button {
		case tea.MouseButtonLeft:
			m.deps.Controller.PointerDown(x, y)
		case tea.MouseButtonRight:
			m.touch.TouchStart(t)
		}
	case tea.MouseActionMotion:
		m.deps.Controller.PointerMove(x, y, 0, false)
		m.touch.TouchMove(t)
	case tea.MouseActionRelease:
		m.deps.Controller.PointerUp()
		m.touch.TouchEnd(t)
	}
}

func (m *Model) releaseKeys() {
	for code := range m.held {
		m.deps.Controller.KeyUp(code)
	}
	clear(m.held)
}

func (m *Model) notify(text string) {
	m.notices.Push(text)
	m.deps.Logger.Info("Viewer notice", "text", text)
}

// Notices returns the recent notices, oldest first.
func (m *Model) Notices() []string {
	return m.notices.Items()
}

// View renders the HUD, the map and the side panel.
func (m *Model) View() string {
	parts := []string{
		hudStyle.Render(m.hud()),
		mapStyle.Render(m.roomMap()),
		m.panel(),
	}
	for _, n := range m.notices.Items() {
		parts = append(parts, noticeStyle.Render(n))
	}
	parts = append(parts, helpStyle.Render(help))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *Model) hud() string {
	c := m.deps.Composer
	cam := c.Camera()
	visitors := "1 visitor"
	if n := c.VisitorCount(); n != 1 {
		visitors = fmt.Sprintf("%d visitors", n)
	}
	line := fmt.Sprintf("%s · %s · %s · x %.1f z %.1f", m.deps.SpaceID, visitors, c.Mode(), cam.Position.X, cam.Position.Z)
	if c.EditMode() {
		line += " · EDIT"
	}
	return line
}

var headings = []rune("↑↖←↙↓↘→↗")

// heading picks the arrow for a yaw. Yaw 0 faces up the map (-Z).
func heading(yaw float64) rune {
	i := int(math.Round(core.WrapAngle(yaw) / (math.Pi / 4)))
	return headings[((i%8)+8)%8]
}

func cell(p core.Vec3) (col, row int) {
	span := 2 * gallery.RoomHalfSize
	col = int(math.Round((p.X + gallery.RoomHalfSize) / span * float64(mapWidth-1)))
	row = int(math.Round((p.Z + gallery.RoomHalfSize) / span * float64(mapHeight-1)))
	return min(max(col, 0), mapWidth-1), min(max(row, 0), mapHeight-1)
}

func slotRune(v gallery.SlotView) rune {
	switch v.State {
	case gallery.Image:
		return '■'
	case gallery.Error:
		return '✗'
	default:
		return '□'
	}
}

// roomMap draws the room from above: slots on the walls, other visitors as
// dots and the local camera as an arrow.
func (m *Model) roomMap() string {
	grid := make([][]rune, mapHeight)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", mapWidth))
	}
	plot := func(p core.Vec3, r rune) {
		col, row := cell(p)
		grid[row][col] = r
	}

	c := m.deps.Composer
	for _, v := range c.Slots() {
		plot(v.Position, slotRune(v))
	}
	for _, a := range c.Actors() {
		plot(a.Position, '●')
	}
	cam := c.Camera()
	plot(cam.Position, heading(cam.Rotation.Y))

	lines := make([]string, mapHeight)
	for i, row := range grid {
		lines[i] = string(row)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) panel() string {
	c := m.deps.Composer
	if slot, ok := c.Editing(); ok {
		rotated := "no"
		if m.rotated {
			rotated = "yes"
		}
		status := "enter save · ctrl+r rotate · esc close"
		if m.saving {
			status = "saving..."
		}
		return editStyle.Render(fmt.Sprintf("Editing %s\nTitle: %s_\nRotated: %s\n%s", slot, m.title, rotated, status))
	}

	slot, ok := c.NearestSlot(editReach)
	if !ok {
		return panelStyle.Render("")
	}
	rec, populated := c.Frames()[slot.ID]
	if !populated {
		return panelStyle.Render("Empty frame " + slot.ID)
	}
	text := rec.Title
	if rec.Description != "" {
		text += "\n" + rec.Description
	}
	return panelStyle.Render(text)
}

// Run runs the program until the user quits or ctx is done.
func Run(ctx context.Context, m *Model, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(m, opts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
