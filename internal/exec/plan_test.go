package exec

import (
	"slices"
	"testing"
)

func TestPlanFor(t *testing.T) {
	cases := []struct {
		language    string
		wantFile    string
		wantCompile []string
		wantRun     []string
	}{
		{"python", "Main.py", nil, []string{"python3", "Main.py"}},
		{"PYTHON", "Main.py", nil, []string{"python3", "Main.py"}},
		{"javascript", "Main.js", nil, []string{"node", "Main.js"}},
		{"node", "Main.js", nil, []string{"node", "Main.js"}},
		{"java", "Main.java", []string{"javac", "Main.java"}, []string{"java", "Main"}},
		{"c", "main.c", []string{"gcc", "main.c", "-o", "main.out"}, []string{"./main.out"}},
		{"cpp", "main.cpp", []string{"g++", "main.cpp", "-o", "main.out"}, []string{"./main.out"}},
		{"c++", "main.cpp", []string{"g++", "main.cpp", "-o", "main.out"}, []string{"./main.out"}},
		{"brainfuck", "cmd.txt", nil, nil},
		{"", "cmd.txt", nil, nil},
	}

	for _, tc := range cases {
		t.Run(tc.language, func(t *testing.T) {
			p := PlanFor(tc.language, "python3")
			if p.Filename != tc.wantFile {
				t.Fatalf("filename=%q, want %q", p.Filename, tc.wantFile)
			}
			if !slices.Equal(p.Compile, tc.wantCompile) {
				t.Fatalf("compile=%v, want %v", p.Compile, tc.wantCompile)
			}
			if !slices.Equal(p.Run, tc.wantRun) {
				t.Fatalf("run=%v, want %v", p.Run, tc.wantRun)
			}
		})
	}
}

func TestPlanForCustomPython(t *testing.T) {
	p := PlanFor("python", "/opt/py/bin/python")
	if got := p.Run[0]; got != "/opt/py/bin/python" {
		t.Fatalf("interpreter=%q, want /opt/py/bin/python", got)
	}
}
