package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	keyBlockedCommands = "blocked-commands"
	keyAllowedPlayers  = "allowed-players"
)

// ListPersister rewrites the blocked-commands and allowed-players lists in
// the config file, leaving every other key and comment in place.
type ListPersister struct {
	path string
	mu   sync.Mutex
}

func NewListPersister(path string) *ListPersister {
	return &ListPersister{path: ExpandPath(path)}
}

func (p *ListPersister) Path() string { return p.path }

func (p *ListPersister) PersistBlocked(blocked []string) error {
	return p.setList(keyBlockedCommands, blocked)
}

func (p *ListPersister) PersistAllowed(allowed []string) error {
	return p.setList(keyAllowedPlayers, allowed)
}

func (p *ListPersister) setList(key string, values []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var doc yaml.Node
	data, err := os.ReadFile(p.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read %s: %w", p.path, err)
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", p.path, err)
		}
	}

	root := documentRoot(&doc)
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("%s: top level is not a mapping", p.path)
	}
	setMappingValue(root, key, stringSequence(values))

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode %s: %w", p.path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode %s: %w", p.path, err)
	}
	return writeFileAtomic(p.path, buf.Bytes(), 0o644)
}

// documentRoot returns the top-level mapping, creating an empty document
// when the file was missing or blank.
func documentRoot(doc *yaml.Node) *yaml.Node {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	return doc.Content[0]
}

func setMappingValue(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			// Keep comments attached to the old value.
			value.HeadComment = mapping.Content[i+1].HeadComment
			value.LineComment = mapping.Content[i+1].LineComment
			mapping.Content[i+1] = value
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}

func stringSequence(values []string) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, v := range values {
		seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v})
	}
	return seq
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
