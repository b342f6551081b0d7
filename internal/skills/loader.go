package skills

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// LoadRules reads every *.json5/*.json file in dir into a flat Rule
// slice. Missing dir is not an error — a fresh install runs with no
// policies (allow-everything under the caller's default profile).
func LoadRules(dir string) ([]Rule, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rules []Rule
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json5") && !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var fileRules []Rule
		if err := json5.Unmarshal(data, &fileRules); err != nil {
			return nil, err
		}
		rules = append(rules, fileRules...)
	}
	return rules, nil
}

// WatchRules watches dir for changes and reloads rules into engine,
// logging and discarding a reload that fails to parse (the last good
// rule set stays active — a policy directory must never go fail-open
// because of an operator typo). The spec's policies are nominally
// immutable; this only guards against the directory changing out from
// under a running process rather than supporting live authoring.
func WatchRules(dir string, engine *PolicyEngine) (*fsnotify.Watcher, error) {
	if dir == "" {
		return nil, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				rules, err := LoadRules(dir)
				if err != nil {
					slog.Warn("skills: policy reload failed, keeping previous rule set", "dir", dir, "error", err)
					continue
				}
				engine.SetRules(rules)
				slog.Info("skills: policy rules reloaded", "dir", dir, "rules", len(rules))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("skills: policy watcher error", "error", err)
			}
		}
	}()
	return watcher, nil
}
