package exec

import "strings"

// Plan describes how one language is staged and executed: the source
// filename, an optional compile argv and the run argv. A nil Run means the
// submitted text is treated as a literal shell command instead.
type Plan struct {
	Filename string
	Compile  []string
	Run      []string
}

// PlanFor maps a language key to its execution plan. The mapping is closed;
// unrecognized languages fall back to the shell-command plan. pythonCmd
// names the interpreter used for python runs.
func PlanFor(language, pythonCmd string) Plan {
	switch strings.ToLower(language) {
	case "python":
		return Plan{Filename: "Main.py", Run: []string{pythonCmd, "Main.py"}}
	case "javascript", "node":
		return Plan{Filename: "Main.js", Run: []string{"node", "Main.js"}}
	case "java":
		// The class must be named Main.
		return Plan{
			Filename: "Main.java",
			Compile:  []string{"javac", "Main.java"},
			Run:      []string{"java", "Main"},
		}
	case "c":
		return Plan{
			Filename: "main.c",
			Compile:  []string{"gcc", "main.c", "-o", "main.out"},
			Run:      []string{"./main.out"},
		}
	case "cpp", "c++":
		return Plan{
			Filename: "main.cpp",
			Compile:  []string{"g++", "main.cpp", "-o", "main.out"},
			Run:      []string{"./main.out"},
		}
	default:
		return Plan{Filename: "cmd.txt"}
	}
}
