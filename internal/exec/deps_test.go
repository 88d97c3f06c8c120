package exec

import (
	"slices"
	"testing"
)

func TestStripDepHeaders(t *testing.T) {
	cases := []struct {
		name      string
		in        string
		wantClean string
		wantPy    []string
		wantJS    []string
	}{
		{
			name:      "no headers",
			in:        "print(1)\n",
			wantClean: "print(1)\n",
		},
		{
			name:      "python comment header",
			in:        "# requirements: requests flask==2.0\nprint(1)\n",
			wantClean: "\nprint(1)\n",
			wantPy:    []string{"requests", "flask==2.0"},
		},
		{
			name:      "python bare header",
			in:        "requirements: requests\nprint(1)\n",
			wantClean: "\nprint(1)\n",
			wantPy:    []string{"requests"},
		},
		{
			name:      "js comment header",
			in:        "// dependencies: lodash\nconsole.log(1)\n",
			wantClean: "\nconsole.log(1)\n",
			wantJS:    []string{"lodash"},
		},
		{
			name:      "js bare header",
			in:        "dependencies: lodash axios\nconsole.log(1)\n",
			wantClean: "\nconsole.log(1)\n",
			wantJS:    []string{"lodash", "axios"},
		},
		{
			name:      "header mid file",
			in:        "print(1)\n  # requirements: numpy\nprint(2)\n",
			wantClean: "print(1)\n\nprint(2)\n",
			wantPy:    []string{"numpy"},
		},
		{
			name:      "first match only",
			in:        "# requirements: a\n# requirements: b\n",
			wantClean: "\n# requirements: b\n",
			wantPy:    []string{"a"},
		},
		{
			name:      "both kinds",
			in:        "# requirements: requests\n// dependencies: lodash\nmain()\n",
			wantClean: "\n\nmain()\n",
			wantPy:    []string{"requests"},
			wantJS:    []string{"lodash"},
		},
		{
			name:      "case insensitive",
			in:        "# Requirements: requests\n",
			wantClean: "\n",
			wantPy:    []string{"requests"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clean, py, js := StripDepHeaders(tc.in)
			if clean != tc.wantClean {
				t.Fatalf("cleaned=%q, want %q", clean, tc.wantClean)
			}
			if !slices.Equal(py, tc.wantPy) {
				t.Fatalf("python pkgs=%v, want %v", py, tc.wantPy)
			}
			if !slices.Equal(js, tc.wantJS) {
				t.Fatalf("js pkgs=%v, want %v", js, tc.wantJS)
			}
		})
	}
}
