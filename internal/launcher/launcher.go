// Package launcher installs a freedesktop.org application entry for ptzgo.
package launcher

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/cjeanneret/PtzGo/internal/debug"
)

// FileName is the name of the installed desktop entry.
const FileName = "ptzgo.desktop"

// Entry is the content of a desktop entry file.
type Entry struct {
	Name       string
	Comment    string
	Binary     string   // absolute path of the ptzgo executable
	Args       []string // appended to Exec
	Icon       string
	Terminal   bool
	Categories []string
}

// DefaultEntry starts the web UI with the given app config.
func DefaultEntry(binary, configPath string) Entry {
	args := []string{}
	if configPath != "" {
		args = append(args, "-config", configPath)
	}
	args = append(args, "-web=")
	return Entry{
		Name:       "PtzGo",
		Comment:    "Scripted ONVIF PTZ and focus sequences with snapshots",
		Binary:     binary,
		Args:       args,
		Icon:       "camera-photo",
		Categories: []string{"Graphics", "Photography"},
	}
}

var entryTmpl = template.Must(template.New("desktop").Parse(`[Desktop Entry]
Type=Application
Version=1.0
Name={{.Name}}
Comment={{.Comment}}
Exec={{.Exec}}
{{- if .Icon}}
Icon={{.Icon}}
{{- end}}
Terminal={{.Terminal}}
Categories={{.Categories}}
`))

// Exec returns the Exec line value, quoted per the desktop entry rules.
func (e Entry) Exec() string {
	parts := make([]string, 0, len(e.Args)+1)
	parts = append(parts, quoteArg(e.Binary))
	for _, a := range e.Args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

// Render returns the desktop entry file content.
func (e Entry) Render() ([]byte, error) {
	if e.Name == "" || e.Binary == "" {
		return nil, fmt.Errorf("desktop entry needs a name and a binary")
	}
	cats := ""
	if len(e.Categories) > 0 {
		cats = strings.Join(e.Categories, ";") + ";"
	}
	var buf bytes.Buffer
	err := entryTmpl.Execute(&buf, map[string]interface{}{
		"Name":       oneLine(e.Name),
		"Comment":    oneLine(e.Comment),
		"Exec":       e.Exec(),
		"Icon":       oneLine(e.Icon),
		"Terminal":   e.Terminal,
		"Categories": cats,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// quoteArg quotes an Exec argument when it holds reserved characters.
func quoteArg(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\><~|&;$*?#()`") {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '`', '$', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

func oneLine(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

// Dirs returns the per-user applications directory and desktop folder.
func Dirs() (apps, desktop string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}
	data := os.Getenv("XDG_DATA_HOME")
	if data == "" {
		data = filepath.Join(home, ".local", "share")
	}
	desktop = os.Getenv("XDG_DESKTOP_DIR")
	if desktop == "" {
		desktop = filepath.Join(home, "Desktop")
	}
	return filepath.Join(data, "applications"), desktop, nil
}

// Install writes the entry to appsDir and, when desktopDir is not empty,
// copies it there as an executable (trusted) launcher.
// It returns the written paths.
func Install(e Entry, appsDir, desktopDir string) ([]string, error) {
	content, err := e.Render()
	if err != nil {
		return nil, err
	}
	var written []string

	if err := os.MkdirAll(appsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", appsDir, err)
	}
	appPath := filepath.Join(appsDir, FileName)
	if err := os.WriteFile(appPath, content, 0o644); err != nil {
		return nil, fmt.Errorf("write launcher: %w", err)
	}
	written = append(written, appPath)
	debug.Info("Launcher installed: %s", appPath)

	if desktopDir == "" {
		return written, nil
	}
	if err := os.MkdirAll(desktopDir, 0o755); err != nil {
		return written, fmt.Errorf("create %s: %w", desktopDir, err)
	}
	deskPath := filepath.Join(desktopDir, FileName)
	if err := os.WriteFile(deskPath, content, 0o755); err != nil {
		return written, fmt.Errorf("write desktop shortcut: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(deskPath, 0o755); err != nil {
		return written, fmt.Errorf("chmod desktop shortcut: %w", err)
	}
	written = append(written, deskPath)
	debug.Info("Desktop shortcut installed: %s", deskPath)
	return written, nil
}
