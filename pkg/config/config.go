// Package config provides the INI-like configuration loader used by every
// corenet component. It is versioned so that applications can depend on a
// stable API contract.
//
// Version: v0.1.0
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Kind tags the dynamic type a Value holds.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindArray
)

// Value is the tagged variant every config entry is stored as.
type Value struct {
	Kind  Kind
	Str   string
	Bool  bool
	Int   int64
	Array []string
}

// Store is a section/key hash table loaded from an INI-like file plus its
// directory overlays.
type Store struct {
	log      *logrus.Logger
	baseDir  string
	sections map[string]map[string]Value
}

// New creates an empty Store. Use Load to populate it from disk.
func New() *Store {
	return &Store{log: logrus.StandardLogger(), sections: make(map[string]map[string]Value)}
}

// SetLogger overrides the logger used for load warnings (defaults to the
// standard logrus logger).
func (s *Store) SetLogger(l *logrus.Logger) { s.log = l }

// Load materializes a logical config name N from configsDir/N.cfg plus, if
// present, every configsDir/N.d/*.cfg file applied in alphabetical order.
// Later files override earlier ones key-by-key; a bare `key =` removes the
// key (or, for arrays, an empty `key = []` removes it).
func Load(configsDir, name string) (*Store, error) {
	s := New()
	s.baseDir = configsDir
	base := filepath.Join(configsDir, name+".cfg")
	if err := s.applyFile(base); err != nil {
		return nil, fmt.Errorf("load %s: %w", base, err)
	}

	overlayDir := filepath.Join(configsDir, name+".d")
	entries, err := os.ReadDir(overlayDir)
	if err == nil {
		var files []string
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".cfg") {
				continue
			}
			files = append(files, e.Name())
		}
		sort.Strings(files)
		for _, f := range files {
			p := filepath.Join(overlayDir, f)
			if err := s.applyFile(p); err != nil {
				return nil, fmt.Errorf("load overlay %s: %w", p, err)
			}
		}
	}

	_ = godotenv.Overload() // best-effort .env overrides of process env
	return s, nil
}

// applyFile re-writes the file's raw grammar (comment stripping, whitespace
// stripping, multi-line array continuation) into an ini.v1-digestible form,
// then folds every key into the store, honoring delete-on-empty-value.
func (s *Store) applyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	normalized, err := normalizeGrammar(f)
	if err != nil {
		return err
	}
	if strings.TrimSpace(normalized) == "" {
		return nil
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, []byte(normalized))
	if err != nil {
		return fmt.Errorf("parse ini: %w", err)
	}

	for _, sec := range cfg.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection {
			name = "general"
		}
		for _, key := range sec.Keys() {
			composite := normalizeKeyName(key.Name())
			raw := key.Value()
			if strings.TrimSpace(raw) == "" {
				s.delete(name, composite)
				continue
			}
			v := parseValue(raw)
			if v.Kind == KindArray && len(v.Array) == 0 {
				s.delete(name, composite)
				continue
			}
			s.set(name, composite, v)
		}
	}
	return nil
}

// normalizeKeyName converts dashes in a composite key name to underscores,
// e.g. "debug-config" -> "debug_config".
func normalizeKeyName(k string) string {
	return strings.ReplaceAll(k, "-", "_")
}

// normalizeGrammar strips `#` comments and blank lines, and collapses array
// values that span multiple lines without a closing `]` on the opening line
// into a single logical line ini.v1 can parse.
func normalizeGrammar(f *os.File) (string, error) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var out strings.Builder
	var pending string
	inArray := false

	for scanner.Scan() {
		line := stripComment(scanner.Text())
		trimmed := strings.TrimSpace(line)
		if !inArray && trimmed == "" {
			continue
		}

		if inArray {
			pending += trimmed
			if strings.Contains(trimmed, "]") {
				out.WriteString(pending)
				out.WriteString("\n")
				pending = ""
				inArray = false
			} else {
				pending += ","
			}
			continue
		}

		if eq := strings.Index(trimmed, "="); eq >= 0 && !strings.HasPrefix(trimmed, "[") {
			val := strings.TrimSpace(trimmed[eq+1:])
			if strings.HasPrefix(val, "[") && !strings.Contains(val, "]") {
				pending = trimmed + ","
				inArray = true
				continue
			}
		}
		out.WriteString(trimmed)
		out.WriteString("\n")
	}
	if inArray && pending != "" {
		out.WriteString(strings.TrimSuffix(pending, ",") + "]\n")
	}
	return out.String(), scanner.Err()
}

func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		return line[:i]
	}
	return line
}

// parseValue classifies a raw string as bool, decimal, array, or string.
func parseValue(raw string) Value {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		inner := strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
		inner = strings.TrimSuffix(inner, ",")
		var items []string
		if strings.TrimSpace(inner) != "" {
			for _, part := range strings.Split(inner, ",") {
				part = strings.TrimSpace(part)
				if part != "" {
					items = append(items, part)
				}
			}
		}
		return Value{Kind: KindArray, Array: items}
	}
	switch strings.ToLower(raw) {
	case "true":
		return Value{Kind: KindBool, Bool: true, Str: raw}
	case "false":
		return Value{Kind: KindBool, Bool: false, Str: raw}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && !strings.ContainsAny(raw, ".eE") {
		return Value{Kind: KindInt, Int: n, Str: raw}
	}
	return Value{Kind: KindString, Str: raw}
}

func (s *Store) set(section, key string, v Value) {
	sec, ok := s.sections[section]
	if !ok {
		sec = make(map[string]Value)
		s.sections[section] = sec
	}
	sec[key] = v
}

func (s *Store) delete(section, key string) {
	if sec, ok := s.sections[section]; ok {
		delete(sec, key)
	}
}

func (s *Store) get(section, key string) (Value, bool) {
	sec, ok := s.sections[section]
	if !ok {
		return Value{}, false
	}
	v, ok := sec[key]
	return v, ok
}

// GetString returns the string form of section:key, or def if absent or of
// the wrong type.
func (s *Store) GetString(section, key, def string) string {
	v, ok := s.get(section, key)
	if !ok {
		return def
	}
	if v.Kind == KindArray {
		s.log.Warnf("config: %s:%s is an array, not a string", section, key)
		return def
	}
	return v.Str
}

// GetBool returns the boolean form of section:key, or def if absent or of
// the wrong type.
func (s *Store) GetBool(section, key string, def bool) bool {
	v, ok := s.get(section, key)
	if !ok {
		return def
	}
	if v.Kind != KindBool {
		s.log.Warnf("config: %s:%s is not a bool", section, key)
		return def
	}
	return v.Bool
}

// GetInt64 returns the integer form of section:key, or def if absent or of
// the wrong type.
func (s *Store) GetInt64(section, key string, def int64) int64 {
	v, ok := s.get(section, key)
	if !ok {
		return def
	}
	if v.Kind != KindInt {
		s.log.Warnf("config: %s:%s is not an int", section, key)
		return def
	}
	return v.Int
}

// GetArray returns the array form of section:key, or def if absent or of the
// wrong type.
func (s *Store) GetArray(section, key string, def []string) []string {
	v, ok := s.get(section, key)
	if !ok {
		return def
	}
	if v.Kind != KindArray {
		s.log.Warnf("config: %s:%s is not an array", section, key)
		return def
	}
	return v.Array
}

// GetPath resolves a path-typed value against the config's own directory
// when the stored value is relative.
func (s *Store) GetPath(section, key, def string) string {
	raw := s.GetString(section, key, def)
	if raw == "" || filepath.IsAbs(raw) || s.baseDir == "" {
		return raw
	}
	return filepath.Join(s.baseDir, raw)
}

// DebugConfig reports whether [general] debug_config is enabled, the trace
// flag every loader honors per the dash/underscore normalization rule.
func (s *Store) DebugConfig() bool {
	return s.GetBool("general", "debug_config", false)
}
