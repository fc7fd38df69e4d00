package main

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/knipferrc/teacup/code"
	"github.com/noelzubin/notes_vault/editor"
	"github.com/noelzubin/notes_vault/search"
	"github.com/noelzubin/notes_vault/utils"
	"github.com/samber/lo"
)

var (
	ListStyle   = lipgloss.NewStyle().MarginTop(1)
	StatusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginLeft(2)
	ErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).MarginLeft(2)
)

var whitespace = regexp.MustCompile(`\s{2,}|\t+`)

// Main app model for bubbletea
type Model struct {
	width     int                 // width of terminal
	height    int                 // height of terminal
	preview   *code.Bubble        // the preview widget model
	list      list.Model          // the list widget model
	textInput textinput.Model     // the input search widget model
	indexer   search.NotesIndexer // the indexer for searching and indexing notes.
	editor    editor.Editor       // for opening up external editor.
	status    string
	err       error
	log       *slog.Logger
}

// Create a new model for the app
func New(indexer search.NotesIndexer, config *utils.Config) *Model {
	return &Model{
		list:      create_list_model(),
		textInput: create_text_input(),
		indexer:   indexer,
		editor:    editor.Editor{Editing: false, EditorCmd: config.Editor},
		log:       utils.Logger("tui"),
	}
}

func (m *Model) setListSize() {
	width := m.width
	height := m.height

	// If preview is open take half width
	if m.preview != nil {
		width = m.width / 2
	}

	m.list.SetSize(width, height-3)
}

func (m *Model) setPreviewSize() {
	if m.preview != nil {
		m.preview.SetSize(m.width/2, m.height)
	}
}

func (m *Model) updateSize(width, height int) {
	m.height = height
	m.width = width

	m.setListSize()
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tea.EnterAltScreen, m.reindex())
}

// search returns a command that searches the active index for query.
func (m Model) search(query string) tea.Cmd {
	indexer := m.indexer
	return func() tea.Msg {
		return ResultMsg{Query: query, Kind: indexer.Kind(), SearchResult: indexer.Search(query)}
	}
}

// reindex syncs the indexes with the disk and searches again.
func (m Model) reindex() tea.Cmd {
	indexer := m.indexer
	return func() tea.Msg {
		return IndexedMsg{Err: indexer.IndexNotes()}
	}
}

// Formats the content of the file
// removes newlines and replaces tabs with single space.
func formatContent(content string) string {
	s := stripansi.Strip(content)
	s = strings.ReplaceAll(s, "\n", " ↵ ")
	return whitespace.ReplaceAllString(s, " ")
}

func nextKind(kind search.Kind) search.Kind {
	if kind == search.KindMail {
		return search.KindDocument
	}
	return search.KindMail
}

// The update fn for the bubbletea model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case ResultMsg:
		// drop answers to queries the user already changed
		if msg.Query != m.textInput.Value() || msg.Kind != m.indexer.Kind() {
			return m, nil
		}
		m.err = msg.Err
		m.list.SetItems(lo.Map(msg.Hits, func(hit search.DocumentMatch, _ int) list.Item {
			return Note{hit.Path, formatContent(hit.Content)}
		}))
		m.status = fmt.Sprintf("%s · %d results", msg.Kind, len(msg.Hits))
	case IndexedMsg:
		m.err = msg.Err
		if msg.Err != nil {
			m.log.Error("index notes", "error", msg.Err)
		}
		cmds = append(cmds, m.search(m.textInput.Value()))
	case tea.KeyMsg:
		// Keybindings:
		// Tab - move down in the list
		// Shift+Tab - move up in the list
		// Enter - toggle preview for the selected note
		// Esc - close preview
		// Ctrl+R - refresh the index
		// Ctrl+T - switch between notes and mail
		// Ctrl+K - Preview lineup
		// Ctrl+J - Preview line down
		// Ctrl+O - Open the file in the editor
		// Ctrl+C - quit the application
		switch msg.String() {
		case "tab":
			m.list.CursorDown()
		case "shift+tab":
			m.list.CursorUp()
		case "enter":
			if m.list.SelectedItem() != nil {
				path := m.list.SelectedItem().(Note).path
				codeModel := code.New(false, true, lipgloss.AdaptiveColor{Light: "#000000", Dark: "#ffffff"})
				codeModel.SetSize(m.width/2, m.height)
				cmds = append(cmds, codeModel.SetFileName(path))
				m.preview = &codeModel
			}
		case "esc":
			m.preview = nil
		case "ctrl+c":
			return m, tea.Quit
		case "ctrl+r":
			m.status = "indexing..."
			return m, m.reindex()
		case "ctrl+t":
			m.indexer.SetKind(nextKind(m.indexer.Kind()))
			m.preview = nil
			m.status = fmt.Sprintf("%s · searching...", m.indexer.Kind())
			return m, m.search(m.textInput.Value())
		case "ctrl+k":
			if m.preview != nil {
				m.preview.Viewport.LineUp(5)
			}
		case "ctrl+j":
			if m.preview != nil {
				m.preview.Viewport.LineDown(5)
			}
		case "ctrl+o":
			if m.list.SelectedItem() != nil {
				path := m.list.SelectedItem().(Note).path
				cmd = m.editor.EditFile(path)
				cmds = append(cmds, cmd)
			}
		default:
			m.log.Debug("key", "key", msg.String())
		}
	case editor.EditingFinished:
		if msg.Err != nil {
			m.log.Error("editor", "path", msg.Path, "error", msg.Err)
		}
		cmds = append(cmds, m.reindex())
	case tea.WindowSizeMsg:
		m.updateSize(msg.Width, msg.Height)
	}

	// Update the widgets sizes
	m.setListSize()
	m.setPreviewSize()

	// save to compare if changed
	oldValue := m.textInput.Value()

	// pass on message to the other components
	m.textInput, cmd = m.textInput.Update(msg)
	cmds = append(cmds, cmd)

	m.editor, cmd = m.editor.Update(msg)
	cmds = append(cmds, cmd)

	if m.preview != nil {
		var newPreview code.Bubble
		newPreview, cmd = m.preview.Update(msg)
		cmds = append(cmds, cmd)
		m.preview = &newPreview
	}

	// If input has changed, search for the new value
	newValue := m.textInput.Value()
	if oldValue != newValue {
		cmds = append(cmds, m.search(newValue))
	}

	return m, tea.Batch(cmds...)
}

// This is emitted when search results are ready
type ResultMsg struct {
	Query string
	Kind  search.Kind
	search.SearchResult
}

// This is emitted when the indexes are synced with the disk
type IndexedMsg struct {
	Err error
}

// View fn for bubbletea model
func (m Model) View() string {
	listContent := ListStyle.Render(m.list.View())

	// render list
	innerContent := listContent

	// if preview then preview takes up half the width
	if m.preview != nil {
		innerContent = lipgloss.JoinHorizontal(lipgloss.Left,
			listContent,      // render list
			m.preview.View(), // render preview.
		)
	}

	status := StatusStyle.Render(m.status)
	if m.err != nil {
		status = ErrorStyle.Render(m.err.Error())
	}

	// render the input box, the status line and the content
	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.textInput.View(), // render the text input
		status,             // render the active index and errors
		innerContent,       // render the main content
	)
}

// Note implements list.Item interface
type Note struct {
	path    string
	content string
}

func (n Note) Title() string       { return n.path }
func (n Note) Description() string { return n.content }
func (n Note) FilterValue() string { return "" }

// Create the list model
func create_list_model() list.Model {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	l.SetShowFilter(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.Styles.NoItems = l.Styles.NoItems.Copy().PaddingLeft(2)
	return l
}

// Create the text input model
func create_text_input() textinput.Model {
	ti := textinput.New()
	ti.Placeholder = "query"
	ti.Prompt = "Search:"
	ti.PromptStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("62")).
		Foreground(lipgloss.Color("230")).
		MarginRight(1).
		MarginLeft(2).
		Padding(0, 1)
	ti.Focus()
	return ti
}
