package errors

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is one located message reported by a compiler.
type Diagnostic struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
	Snippet string `json:"snippet,omitempty"`
}

func (d Diagnostic) String() string {
	if d.File == "" {
		return d.Message
	}
	if d.Line == 0 {
		return fmt.Sprintf("%s: %s", d.File, d.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, d.Message)
}

// BuildFailure is the error carried by a soft-failed task result.
type BuildFailure struct {
	Task        string
	Diagnostics []Diagnostic
	Cause       error
}

func (f *BuildFailure) Error() string {
	var b strings.Builder
	b.WriteString(f.Task)
	b.WriteString(": ")
	switch {
	case len(f.Diagnostics) > 0:
		for i, d := range f.Diagnostics {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(d.String())
		}
	case f.Cause != nil:
		b.WriteString(f.Cause.Error())
	default:
		b.WriteString("failed")
	}
	return b.String()
}

func (f *BuildFailure) Unwrap() error {
	return f.Cause
}

// Summary is the first diagnostic, suitable for a desktop notification body.
func (f *BuildFailure) Summary() string {
	if len(f.Diagnostics) > 0 {
		return f.Diagnostics[0].String()
	}
	if f.Cause != nil {
		return f.Cause.Error()
	}
	return "build failed"
}

// NewBuildFailure wraps cause as a soft failure of task, extracting
// diagnostics from its text when no structured ones are supplied.
func NewBuildFailure(task string, cause error, diags ...Diagnostic) *BuildFailure {
	if len(diags) == 0 && cause != nil {
		diags = ParseDiagnostics(cause.Error())
	}
	return &BuildFailure{Task: task, Diagnostics: diags, Cause: cause}
}

// AsBuildFailure unwraps err into a BuildFailure.
func AsBuildFailure(err error) (*BuildFailure, bool) {
	var f *BuildFailure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

type diagnosticPattern struct {
	regex       *regexp.Regexp
	parseFields func(m []string) Diagnostic
}

// Sass reports "Error: <msg>\n        on line 3:5 of file.scss" or
// "Error > file.scss:3\n<msg>"; Go templates
// report "template: name:3:5: executing ..." or "template: name:3: ...".
var diagnosticPatterns = []diagnosticPattern{
	{
		regex: regexp.MustCompile(`(?s)^(?:Error: )?(.+?)\s+on line (\d+):(\d+) of (\S+)`),
		parseFields: func(m []string) Diagnostic {
			return Diagnostic{File: m[4], Line: atoi(m[2]), Column: atoi(m[3]), Message: strings.TrimSpace(m[1])}
		},
	},
	{
		regex: regexp.MustCompile(`^Error > (\S+?):(\d+)\n(.+)`),
		parseFields: func(m []string) Diagnostic {
			return Diagnostic{File: m[1], Line: atoi(m[2]), Message: strings.TrimSpace(m[3])}
		},
	},
	{
		regex: regexp.MustCompile(`^template: ([^:]+):(\d+):(\d+): (.+)$`),
		parseFields: func(m []string) Diagnostic {
			return Diagnostic{File: m[1], Line: atoi(m[2]), Column: atoi(m[3]), Message: m[4]}
		},
	},
	{
		regex: regexp.MustCompile(`^template: ([^:]+):(\d+): (.+)$`),
		parseFields: func(m []string) Diagnostic {
			return Diagnostic{File: m[1], Line: atoi(m[2]), Message: m[3]}
		},
	},
}

// ParseDiagnostics extracts a located diagnostic from compiler output. Output
// that matches no known shape becomes a single unlocated diagnostic.
func ParseDiagnostics(output string) []Diagnostic {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil
	}
	for _, p := range diagnosticPatterns {
		if m := p.regex.FindStringSubmatch(output); m != nil {
			return []Diagnostic{p.parseFields(m)}
		}
	}
	return []Diagnostic{{Message: firstLine(output)}}
}

// FormatForBrowser renders diagnostics as an HTML fragment for the live
// reload error overlay.
func FormatForBrowser(task string, diags []Diagnostic) string {
	if len(diags) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(`<div class="sitewright-errors"><h2>`)
	b.WriteString(html.EscapeString(task))
	b.WriteString(` failed</h2>`)
	for _, d := range diags {
		b.WriteString(`<div class="error">`)
		if d.File != "" {
			b.WriteString(`<div class="error-location">`)
			loc := d.File
			if d.Line > 0 {
				loc = fmt.Sprintf("%s:%d:%d", d.File, d.Line, d.Column)
			}
			b.WriteString(html.EscapeString(loc))
			b.WriteString(`</div>`)
		}
		b.WriteString(`<pre class="error-message">`)
		b.WriteString(html.EscapeString(d.Message))
		b.WriteString(`</pre>`)
		if d.Snippet != "" {
			b.WriteString(`<pre class="error-context">`)
			b.WriteString(html.EscapeString(d.Snippet))
			b.WriteString(`</pre>`)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div>`)
	return b.String()
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
