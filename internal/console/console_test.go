package console

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func TestParseSelection(t *testing.T) {
	cases := []struct {
		input string
		n     int
		want  []int
	}{
		{"", 3, []int{0, 1, 2}},
		{"0", 3, []int{0, 1, 2}},
		{"tous", 3, []int{0, 1, 2}},
		{"TOUTES", 2, []int{0, 1}},
		{"1,3", 3, []int{0, 2}},
		{"2 3", 3, []int{1, 2}},
		{"3;1", 3, []int{2, 0}},
		{"1,1,2", 3, []int{0, 1}},
		{"4,abc,2", 3, []int{1}},
		{"abc", 3, nil},
	}
	for _, tc := range cases {
		got := ParseSelection(tc.input, tc.n)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParseSelection(%q, %d) = %v, want %v", tc.input, tc.n, got, tc.want)
		}
	}
}

func TestConfirm(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"o\n", true},
		{"OUI\n", true},
		{"y\n", true},
		{"yes\n", true},
		{"n\n", false},
		{"non\n", false},
		{"whatever\n", false},
	}
	for _, tc := range cases {
		c := NewWithIO(strings.NewReader(tc.input), &bytes.Buffer{})
		got, err := c.Confirm("Reprendre ?")
		if err != nil {
			t.Fatalf("Confirm(%q) returned error: %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("Confirm(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestConfirmEOF(t *testing.T) {
	c := NewWithIO(strings.NewReader(""), &bytes.Buffer{})
	if _, err := c.Confirm("Reprendre ?"); err == nil {
		t.Fatal("expected an error on closed input")
	}
}

func TestChooseRetriesUntilValid(t *testing.T) {
	out := &bytes.Buffer{}
	c := NewWithIO(strings.NewReader("x\n\nR\n"), out)
	got, err := c.Choose("Réessayer, ignorer ou quitter ?", 'r', 's', 'q')
	if err != nil {
		t.Fatalf("Choose returned error: %v", err)
	}
	if got != 'r' {
		t.Errorf("Choose = %q, want 'r'", got)
	}
	if n := strings.Count(out.String(), "[r/s/q]"); n != 3 {
		t.Errorf("expected 3 prompts, saw %d", n)
	}
}

func TestPause(t *testing.T) {
	c := NewWithIO(strings.NewReader("\n"), &bytes.Buffer{})
	if err := c.Pause("Appuyez sur Entrée..."); err != nil {
		t.Fatalf("Pause returned error: %v", err)
	}
	c = NewWithIO(strings.NewReader(""), &bytes.Buffer{})
	if err := c.Pause("Appuyez sur Entrée..."); err == nil {
		t.Fatal("expected an error on closed input")
	}
}

func TestProgress(t *testing.T) {
	out := &bytes.Buffer{}
	c := NewWithIO(strings.NewReader(""), out)
	c.Progress(3, 10)
	if !strings.Contains(out.String(), "3/10 (30%)") {
		t.Errorf("progress output missing counts: %q", out.String())
	}
	c.Progress(0, 0) // must not divide by zero
}

func TestSelectGroups(t *testing.T) {
	out := &bytes.Buffer{}
	c := NewWithIO(strings.NewReader("2\n"), out)
	picked, err := c.SelectGroups([]GroupOption{
		{Name: "TVA 3", Items: 12},
		{Name: "TVA 4", Items: 8, Resume: 5},
	})
	if err != nil {
		t.Fatalf("SelectGroups returned error: %v", err)
	}
	if !reflect.DeepEqual(picked, []int{1}) {
		t.Errorf("SelectGroups = %v, want [1]", picked)
	}
	menu := out.String()
	if !strings.Contains(menu, "1. TVA 3 (12 identifiants)") {
		t.Errorf("menu missing first group: %q", menu)
	}
	if !strings.Contains(menu, "reprise : 5/8") {
		t.Errorf("menu missing resume marker: %q", menu)
	}
}
