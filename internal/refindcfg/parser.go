// Copyright (c) 2024 John Mylchreest <jmylchreest@gmail.com>
//
// This file is part of refind-btrfs-snapshots.
//
// refind-btrfs-snapshots is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// refind-btrfs-snapshots is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with refind-btrfs-snapshots. If not, see <https://www.gnu.org/licenses/>.

package refindcfg

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/refind-btrfs-snapshots/internal/apperrors"
	"github.com/jmylchreest/refind-btrfs-snapshots/internal/bootopts"
)

// maxIncludeDepth protects against include cycles; exceeding it is a fatal
// error (spec §4.1).
const maxIncludeDepth = 32

func dirBase(path string) string {
	return filepath.Base(filepath.Dir(path))
}

// lexLine is one whitespace-trimmed, non-empty, non-comment line of the
// source (or a brace split off one), with its 1-based line number for error
// reporting.
type lexLine struct {
	line int
	text string
}

// Parser parses rEFInd configuration files and their include trees.
type Parser struct {
	// seen maps absolute path to an in-progress sentinel, used for cycle
	// detection across the include tree of a single top-level parse.
	seen map[string]bool
}

// NewParser creates a rEFInd config parser.
func NewParser() *Parser { return &Parser{seen: make(map[string]bool)} }

// ParseFile parses the file at path and its include tree, recursively.
func (p *Parser) ParseFile(path string) (*BootConfig, error) {
	return p.parseFileAt(path, 0)
}

func (p *Parser) parseFileAt(path string, depth int) (*BootConfig, error) {
	if depth > maxIncludeDepth {
		return nil, apperrors.RefindSyntaxError(path, 0, 0, fmt.Errorf("include depth exceeds %d, likely a cycle", maxIncludeDepth))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if p.seen[abs] {
		return nil, apperrors.RefindSyntaxError(path, 0, 0, fmt.Errorf("include cycle detected at %s", path))
	}
	p.seen[abs] = true
	defer delete(p.seen, abs)

	lines, err := readLines(path)
	if err != nil {
		return nil, apperrors.RefindConfigError(apperrors.PhaseBootEntryParseMatch, path, err)
	}

	cfg := &BootConfig{Path: path}
	cur := newTokenStream(path, lines)

	for !cur.atEnd() {
		l := cur.peek()
		word, rest := splitWord(l.text)

		switch word {
		case "menuentry":
			entry, err := p.parseMenuEntry(cur, rest)
			if err != nil {
				return nil, err
			}
			cfg.Entries = append(cfg.Entries, entry)

		case "include":
			operand := strings.TrimSpace(unquote(rest))
			cfg.RawIncludePaths = append(cfg.RawIncludePaths, operand)

			includePath := operand
			if !filepath.IsAbs(includePath) {
				includePath = filepath.Join(filepath.Dir(path), includePath)
			}

			included, err := p.parseFileAt(includePath, depth+1)
			if err != nil {
				// Syntax errors in an included file, include cycles and
				// excess depth are fatal. An include that cannot be read
				// is skipped; the including file itself remains valid.
				if _, ok := err.(*apperrors.SyntaxError); ok {
					return nil, err
				}
				cur.next()
				continue
			}
			cfg.Includes = append(cfg.Includes, included)
			cur.next()

		default:
			// Unrecognized but syntactically well-formed top-level
			// directive: skipped per spec §4.1.
			cur.next()
		}
	}

	return cfg, nil
}

func (p *Parser) parseMenuEntry(cur *tokenStream, headerRest string) (*BootEntry, error) {
	name, hasBrace, err := parseBlockHeader(cur, headerRest)
	if err != nil {
		return nil, err
	}
	entry := &BootEntry{Name: name, BootOptions: &bootopts.BootOptions{}}
	if !hasBrace {
		return entry, apperrors.RefindSyntaxError(cur.path(), cur.lineNo(), 1, fmt.Errorf("menuentry %q missing opening brace", name))
	}

	for !cur.atEnd() {
		l := cur.peek()
		if strings.TrimSpace(l.text) == "}" {
			cur.next()
			return entry, nil
		}

		word, rest := splitWord(l.text)
		switch word {
		case "volume":
			entry.Volume = unquote(rest)
		case "loader":
			entry.LoaderPath = unquote(rest)
		case "initrd":
			entry.InitrdPath = unquote(rest)
		case "icon":
			entry.IconPath = unquote(rest)
		case "ostype":
			entry.OSType = OSType(strings.TrimSpace(rest))
		case "graphics":
			entry.Graphics = parseGraphics(rest)
		case "options":
			bo, perr := bootopts.Parse(rest)
			if perr != nil {
				return nil, apperrors.RefindSyntaxError(cur.path(), l.line, 1, perr)
			}
			entry.BootOptions = bo
		case "firmware_bootnum":
			entry.FirmwareBootnum = strings.TrimSpace(rest)
		case "disabled":
			entry.IsDisabled = true
		case "submenuentry":
			sub, err := p.parseSubMenu(cur, rest)
			if err != nil {
				return nil, err
			}
			entry.SubEntries = append(entry.SubEntries, sub)
			continue
		default:
			// unrecognized directive inside block: skip
		}
		cur.next()
	}

	return entry, apperrors.RefindSyntaxError(cur.path(), cur.lineNo(), 1, fmt.Errorf("menuentry %q missing closing brace", name))
}

func (p *Parser) parseSubMenu(cur *tokenStream, headerRest string) (*SubEntry, error) {
	name, hasBrace, err := parseBlockHeader(cur, headerRest)
	if err != nil {
		return nil, err
	}
	sub := &SubEntry{Name: name, BootOptions: &bootopts.BootOptions{}, AddBootOptions: &bootopts.BootOptions{}}
	if !hasBrace {
		return sub, apperrors.RefindSyntaxError(cur.path(), cur.lineNo(), 1, fmt.Errorf("submenuentry %q missing opening brace", name))
	}

	for !cur.atEnd() {
		l := cur.peek()
		if strings.TrimSpace(l.text) == "}" {
			cur.next()
			return sub, nil
		}

		word, rest := splitWord(l.text)
		switch word {
		case "loader":
			sub.LoaderPath = unquote(rest)
		case "initrd":
			sub.InitrdPath = unquote(rest)
		case "graphics":
			sub.Graphics = parseGraphics(rest)
		case "options":
			bo, perr := bootopts.Parse(rest)
			if perr != nil {
				return nil, apperrors.RefindSyntaxError(cur.path(), l.line, 1, perr)
			}
			sub.BootOptions = bo
		case "add_options":
			bo, perr := bootopts.Parse(rest)
			if perr != nil {
				return nil, apperrors.RefindSyntaxError(cur.path(), l.line, 1, perr)
			}
			sub.AddBootOptions = bo
		case "disabled":
			sub.IsDisabled = true
		default:
		}
		cur.next()
	}

	return sub, apperrors.RefindSyntaxError(cur.path(), cur.lineNo(), 1, fmt.Errorf("submenuentry %q missing closing brace", name))
}

// parseBlockHeader extracts a quoted/bare name from a 'keyword NAME {' or
// 'keyword NAME' line (brace on the next line), advancing cur past the
// header line(s) that were consumed.
func parseBlockHeader(cur *tokenStream, rest string) (name string, hasBrace bool, err error) {
	rest = strings.TrimSpace(rest)
	if strings.HasSuffix(rest, "{") {
		hasBrace = true
		rest = strings.TrimSpace(strings.TrimSuffix(rest, "{"))
	}
	name = unquote(rest)
	cur.next()

	if !hasBrace {
		for !cur.atEnd() {
			l := cur.peek()
			if strings.TrimSpace(l.text) == "{" {
				hasBrace = true
				cur.next()
				break
			}
			if strings.TrimSpace(l.text) != "" {
				break
			}
			cur.next()
		}
	}

	return name, hasBrace, nil
}

func parseGraphics(rest string) Graphics {
	switch strings.ToLower(strings.TrimSpace(rest)) {
	case "on":
		return GraphicsOn
	case "off":
		return GraphicsOff
	default:
		return GraphicsAbsent
	}
}

func splitWord(s string) (word, rest string) {
	s = strings.TrimSpace(s)
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// readLines reads a file into non-empty, non-comment, trimmed lines,
// preserving 1-based source line numbers. Each '{' and '}' becomes a line
// of its own, so a block may open and close on its header's line; the text
// between braces is still read as a single directive.
func readLines(path string) ([]lexLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []lexLine
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		for trimmed != "" {
			i := strings.IndexAny(trimmed, "{}")
			if i < 0 {
				out = append(out, lexLine{line: lineNo, text: trimmed})
				break
			}
			if head := strings.TrimSpace(trimmed[:i]); head != "" {
				out = append(out, lexLine{line: lineNo, text: head})
			}
			out = append(out, lexLine{line: lineNo, text: trimmed[i : i+1]})
			trimmed = strings.TrimSpace(trimmed[i+1:])
		}
	}
	return out, scanner.Err()
}

// tokenStream is a cursor over a file's significant lines, carrying the
// source path for error messages.
type tokenStream struct {
	filePath string
	lines    []lexLine
	pos      int
}

func newTokenStream(path string, lines []lexLine) *tokenStream {
	return &tokenStream{filePath: path, lines: lines}
}

func (t *tokenStream) atEnd() bool       { return t.pos >= len(t.lines) }
func (t *tokenStream) peek() lexLine     { return t.lines[t.pos] }
func (t *tokenStream) next()             { t.pos++ }
func (t *tokenStream) path() string      { return t.filePath }
func (t *tokenStream) lineNo() int {
	if t.pos < len(t.lines) {
		return t.lines[t.pos].line
	}
	if len(t.lines) > 0 {
		return t.lines[len(t.lines)-1].line
	}
	return 0
}
