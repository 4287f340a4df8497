package resource

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProjectMeta is the project.yaml descriptor at a project root.
type ProjectMeta struct {
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix"`
}

// FileStore is a CardStore backed by a YAML project directory:
//
//	project.yaml
//	workflows/<name>.yaml
//	cardTypes/<name>.yaml
//	cards/<key>.yaml
//	modules/<name>.mg        (optional logic modules)
//
// All reads are served from memory; mutations write through to disk.
type FileStore struct {
	*MemoryStore
	dir     string
	modules map[string]string
}

// LoadProject reads a project directory into a FileStore.
func LoadProject(dir string) (*FileStore, error) {
	meta := ProjectMeta{Prefix: "card"}
	metaPath := filepath.Join(dir, "project.yaml")
	if data, err := os.ReadFile(metaPath); err == nil {
		if err := yaml.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("parse %s: %w", metaPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", metaPath, err)
	}

	fs := &FileStore{
		MemoryStore: NewMemoryStore(meta.Prefix),
		dir:         dir,
		modules:     make(map[string]string),
	}

	if err := loadDir(filepath.Join(dir, "workflows"), func(data []byte, path string) error {
		var w Workflow
		if err := yaml.Unmarshal(data, &w); err != nil {
			return err
		}
		return fs.AddWorkflow(&w)
	}); err != nil {
		return nil, err
	}

	if err := loadDir(filepath.Join(dir, "cardTypes"), func(data []byte, path string) error {
		var t CardType
		if err := yaml.Unmarshal(data, &t); err != nil {
			return err
		}
		return fs.AddCardType(&t)
	}); err != nil {
		return nil, err
	}

	if err := loadDir(filepath.Join(dir, "cards"), func(data []byte, path string) error {
		var c Card
		if err := yaml.Unmarshal(data, &c); err != nil {
			return err
		}
		if c.Key == "" {
			c.Key = strings.TrimSuffix(filepath.Base(path), ".yaml")
		}
		return fs.AddCard(&c)
	}); err != nil {
		return nil, err
	}

	moduleDir := filepath.Join(dir, "modules")
	entries, err := os.ReadDir(moduleDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", moduleDir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mg") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(moduleDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read module %s: %w", e.Name(), err)
		}
		fs.modules[strings.TrimSuffix(e.Name(), ".mg")] = string(data)
	}

	return fs, nil
}

func loadDir(dir string, load func(data []byte, path string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := load(data, path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Dir returns the project root directory.
func (fs *FileStore) Dir() string { return fs.dir }

// Modules returns project-defined logic modules keyed by module name.
func (fs *FileStore) Modules() map[string]string {
	out := make(map[string]string, len(fs.modules))
	for k, v := range fs.modules {
		out[k] = v
	}
	return out
}

// ReloadCard re-reads a single card file after an external edit.
// Missing files remove the card from memory.
func (fs *FileStore) ReloadCard(key string) error {
	path := fs.cardPath(key)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if _, gerr := fs.MemoryStore.GetCard(key); gerr == nil {
			return fs.MemoryStore.DeleteCard(key)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var c Card
	if err := yaml.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if c.Key == "" {
		c.Key = key
	}
	if _, gerr := fs.MemoryStore.GetCard(key); gerr == nil {
		if err := fs.MemoryStore.DeleteCard(key); err != nil {
			return err
		}
	}
	return fs.AddCard(&c)
}

func (fs *FileStore) cardPath(key string) string {
	return filepath.Join(fs.dir, "cards", key+".yaml")
}

func (fs *FileStore) writeCard(key string) error {
	c, err := fs.MemoryStore.GetCard(key)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal card %s: %w", key, err)
	}
	dir := filepath.Dir(fs.cardPath(key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(fs.cardPath(key), data, 0o644)
}

// PersistCardState commits a new workflow state and writes the card file.
func (fs *FileStore) PersistCardState(key, newState string) error {
	if err := fs.MemoryStore.PersistCardState(key, newState); err != nil {
		return err
	}
	return fs.writeCard(key)
}

// CreateCard mints a card and writes its file.
func (fs *FileStore) CreateCard(card *Card) (string, error) {
	key, err := fs.MemoryStore.CreateCard(card)
	if err != nil {
		return "", err
	}
	return key, fs.writeCard(key)
}

// DeleteCard removes a card subtree and its files.
func (fs *FileStore) DeleteCard(key string) error {
	doomed, err := fs.subtreeKeys(key)
	if err != nil {
		return err
	}
	if err := fs.MemoryStore.DeleteCard(key); err != nil {
		return err
	}
	for _, k := range doomed {
		if err := os.Remove(fs.cardPath(k)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (fs *FileStore) subtreeKeys(key string) ([]string, error) {
	cards, err := fs.ListCards()
	if err != nil {
		return nil, err
	}
	children := make(map[string][]string)
	for _, c := range cards {
		if c.Parent != "" {
			children[c.Parent] = append(children[c.Parent], c.Key)
		}
	}
	var out []string
	var walk func(k string)
	walk = func(k string) {
		out = append(out, k)
		for _, child := range children[k] {
			walk(child)
		}
	}
	walk(key)
	return out, nil
}

// MoveCard reparents a card and writes its file.
func (fs *FileStore) MoveCard(key, newParent, rank string) error {
	if err := fs.MemoryStore.MoveCard(key, newParent, rank); err != nil {
		return err
	}
	return fs.writeCard(key)
}

// UpdateField sets a field value and writes the card file.
func (fs *FileStore) UpdateField(key, field, value string) error {
	if err := fs.MemoryStore.UpdateField(key, field, value); err != nil {
		return err
	}
	return fs.writeCard(key)
}
