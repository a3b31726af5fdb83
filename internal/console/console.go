// Package console is the operator surface: banner, group headers,
// progress bars and the synchronous prompts the batch blocks on.
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorCyan     = "\033[36m"
	colorBlue     = "\033[34m"
	colorBold     = "\033[1m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Prompter is the synchronous operator dialogue the batch needs. Every
// call blocks until the operator answers.
type Prompter interface {
	Confirm(msg string) (bool, error)
	Choose(msg string, opts ...rune) (rune, error)
	Pause(msg string) error
}

// Console reads prompts from one reader and writes everything to one
// writer. New wires it to the terminal; NewWithIO makes it scriptable.
type Console struct {
	in    *bufio.Reader
	out   io.Writer
	width func() int
}

func New() *Console {
	return &Console{in: bufio.NewReader(os.Stdin), out: os.Stdout, width: termWidth}
}

func NewWithIO(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out, width: func() int { return 80 }}
}

func (c *Console) Banner() {
	fmt.Fprint(c.out, "\033[2J\033[H")

	banner := `
    ____  ______ __     ______ ______ ___   ______ _    __ ___
   / __ \/ ____// /    / ____// ____//   | /_  __/| |  / //   |
  / / / / __/  / /    / __/  / / __ / /| |  / /   | | / // /| |
 / /_/ / /___ / /___ / /___ / /_/ // ___ | / /    | |/ // ___ |
/_____/_____//_____//_____/ \____//_/  |_|/_/     |___//_/  |_|

        >> DELEGATION DES SERVICES EN LIGNE <<
`

	width := c.width()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Fprintf(c.out, "%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

func (c *Console) Infof(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) Failf(format string, args ...any) {
	fmt.Fprintf(c.out, colorNeonMag+format+colorReset+"\n", args...)
}

func (c *Console) GroupHeader(name string, items int) {
	fmt.Fprintf(c.out, "\n%s=== %s : %d identifiant(s) ===%s\n", colorBold, name, items, colorReset)
}

// Progress prints a done/total bar for the current group.
func (c *Console) Progress(done, total int) {
	if total <= 0 {
		return
	}
	barWidth := 20
	filled := clamp(done*barWidth/total, 0, barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("▒", barWidth-filled)
	fmt.Fprintf(c.out, "%s[%s]%s %d/%d (%d%%)\n",
		colorNeonCyan, bar, colorReset, done, total, done*100/total)
}

func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Confirm asks a yes/no question. Oui in both languages counts as yes;
// anything else is no.
func (c *Console) Confirm(msg string) (bool, error) {
	fmt.Fprintf(c.out, "%s [o/n] : ", msg)
	line, err := c.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "o", "oui", "y", "yes":
		return true, nil
	}
	return false, nil
}

// Choose asks until the operator answers with one of the offered keys.
func (c *Console) Choose(msg string, opts ...rune) (rune, error) {
	keys := make([]string, len(opts))
	for i, r := range opts {
		keys[i] = string(r)
	}
	for {
		fmt.Fprintf(c.out, "%s [%s] : ", msg, strings.Join(keys, "/"))
		line, err := c.readLine()
		if err != nil {
			return 0, err
		}
		if line == "" {
			continue
		}
		r := []rune(strings.ToLower(line))[0]
		for _, o := range opts {
			if r == o {
				return o, nil
			}
		}
	}
}

// Pause blocks until the operator presses enter.
func (c *Console) Pause(msg string) error {
	fmt.Fprint(c.out, msg)
	_, err := c.readLine()
	return err
}

// GroupOption is one selectable work group with its resume state.
type GroupOption struct {
	Name  string
	Items int
	// Resume is the checkpointed next index, zero when starting fresh.
	Resume int
}

// SelectGroups shows the group menu and returns the chosen zero-based
// indices.
func (c *Console) SelectGroups(options []GroupOption) ([]int, error) {
	fmt.Fprintf(c.out, "\n%sFeuilles disponibles :%s\n", colorBold, colorReset)
	for i, opt := range options {
		line := fmt.Sprintf("  %d. %s (%d identifiants)", i+1, opt.Name, opt.Items)
		if opt.Resume > 0 {
			line += fmt.Sprintf(" %s[reprise : %d/%d]%s", colorPurple, opt.Resume, opt.Items, colorReset)
		}
		fmt.Fprintln(c.out, line)
	}
	fmt.Fprint(c.out, "Feuilles à traiter (ex : 1,3 ou 0 pour toutes) : ")
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	return ParseSelection(line, len(options)), nil
}

// ParseSelection turns an operator answer like "1,3" into zero-based
// indices. "0", "tous"/"toutes" or an empty answer selects everything.
// Tokens that are not valid positions are dropped, duplicates kept once.
func ParseSelection(input string, n int) []int {
	input = strings.TrimSpace(input)
	if input == "" || input == "0" || strings.EqualFold(input, "tous") || strings.EqualFold(input, "toutes") {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	seen := make(map[int]bool)
	var out []int
	split := func(r rune) bool { return r == ',' || r == ';' || r == ' ' }
	for _, tok := range strings.FieldsFunc(input, split) {
		v, err := strconv.Atoi(tok)
		if err != nil || v < 1 || v > n || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v-1)
	}
	return out
}
