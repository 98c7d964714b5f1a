// Package settings implements the Settings tree: a named, typed,
// hierarchical configuration store whose leaves are tagged with the
// DHCP option number they were sourced from (when applicable).
//
// Blocks form a tree rooted at a global Block; each NetDevice owns a
// child Block named after it (internal/netdevice registers one at
// probe time). Resolution walks upward from the most specific block,
// preferring the nearest ancestor that defines the setting — the
// usual named-lookup-with-fallback registry shape, generalized from a
// flat name->store map to a parent-chained tree.
package settings

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/marmos91/netboot/internal/errcode"
)

// Type enumerates the setting value kinds.
type Type int

const (
	TypeString Type = iota
	TypeIPv4
	TypeInteger
	TypeHexBytes
	TypeUUID
	TypeBoolean
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeIPv4:
		return "ipv4"
	case TypeInteger:
		return "integer"
	case TypeHexBytes:
		return "hex-bytes"
	case TypeUUID:
		return "uuid"
	case TypeBoolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// Value holds a single typed setting value. Exactly one field is
// meaningful, selected by Type.
type Value struct {
	Type    Type
	Str     string
	IPv4    net.IP
	Int     int64
	Bytes   []byte
	UUID    uuid.UUID
	Boolean bool
}

// DHCPTag identifies the DHCP option number a setting was sourced from,
// or 0 if it was set programmatically (CLI, script) rather than via DHCP.
type DHCPTag uint8

// entry is a single named setting within a Block.
type entry struct {
	tag   DHCPTag
	value Value
}

// Block is a node in the Settings tree. The global root Block has a nil
// parent; every other Block (one per NetDevice, plus any nested scope)
// has exactly one parent.
type Block struct {
	mu       sync.RWMutex
	name     string
	parent   *Block
	children map[string]*Block
	entries  map[string]entry
}

// NewRoot creates the process-wide root Block.
func NewRoot() *Block {
	return newBlock("", nil)
}

func newBlock(name string, parent *Block) *Block {
	return &Block{
		name:     name,
		parent:   parent,
		children: make(map[string]*Block),
		entries:  make(map[string]entry),
	}
}

// Child returns the named child block, creating it if absent. Used by
// internal/netdevice to register a per-device scope on probe.
func (b *Block) Child(name string) *Block {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.children[name]; ok {
		return c
	}
	c := newBlock(name, b)
	b.children[name] = c
	return c
}

// RemoveChild detaches a named child block, e.g. on NetDevice unregister.
func (b *Block) RemoveChild(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.children, name)
}

// Name returns this block's name ("" for the root).
func (b *Block) Name() string { return b.name }

// Set stores a typed value at this block, tagging it with the DHCP
// option number it came from (0 if not DHCP-sourced).
func (b *Block) Set(name string, tag DHCPTag, value Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[name] = entry{tag: tag, value: value}
}

// Clear removes a setting from this block only (does not affect ancestors).
func (b *Block) Clear(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, name)
}

// Get resolves name starting at this block and walking upward through
// parents, returning the first match. Returns errcode.NoEntry if no
// block in the chain defines it.
func (b *Block) Get(name string) (Value, error) {
	for blk := b; blk != nil; blk = blk.parent {
		blk.mu.RLock()
		e, ok := blk.entries[name]
		blk.mu.RUnlock()
		if ok {
			return e.value, nil
		}
	}
	return Value{}, errcode.New(errcode.NoEntry, "setting %q not found", name)
}

// GetString resolves a string-typed setting, failing InvalidArg on
// type mismatch.
func (b *Block) GetString(name string) (string, error) {
	v, err := b.Get(name)
	if err != nil {
		return "", err
	}
	if v.Type != TypeString {
		return "", errcode.New(errcode.InvalidArg, "setting %q is %s, not string", name, v.Type)
	}
	return v.Str, nil
}

// GetIPv4 resolves an ipv4-typed setting.
func (b *Block) GetIPv4(name string) (net.IP, error) {
	v, err := b.Get(name)
	if err != nil {
		return nil, err
	}
	if v.Type != TypeIPv4 {
		return nil, errcode.New(errcode.InvalidArg, "setting %q is %s, not ipv4", name, v.Type)
	}
	return v.IPv4, nil
}

// GetInteger resolves an integer-typed setting.
func (b *Block) GetInteger(name string) (int64, error) {
	v, err := b.Get(name)
	if err != nil {
		return 0, err
	}
	if v.Type != TypeInteger {
		return 0, errcode.New(errcode.InvalidArg, "setting %q is %s, not integer", name, v.Type)
	}
	return v.Int, nil
}

// GetBoolean resolves a boolean-typed setting.
func (b *Block) GetBoolean(name string) (bool, error) {
	v, err := b.Get(name)
	if err != nil {
		return false, err
	}
	if v.Type != TypeBoolean {
		return false, errcode.New(errcode.InvalidArg, "setting %q is %s, not boolean", name, v.Type)
	}
	return v.Boolean, nil
}

// GetHexBytes resolves a hex-bytes-typed setting (used for static-routes
// and similar packed binary settings).
func (b *Block) GetHexBytes(name string) ([]byte, error) {
	v, err := b.Get(name)
	if err != nil {
		return nil, err
	}
	if v.Type != TypeHexBytes {
		return nil, errcode.New(errcode.InvalidArg, "setting %q is %s, not hex-bytes", name, v.Type)
	}
	return v.Bytes, nil
}

// Path returns the dotted scope path from the root to this block, for
// logging (e.g. "net0").
func (b *Block) Path() string {
	if b.parent == nil {
		return ""
	}
	if b.parent.parent == nil {
		return b.name
	}
	return fmt.Sprintf("%s.%s", b.parent.Path(), b.name)
}
