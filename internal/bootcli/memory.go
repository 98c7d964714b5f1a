package bootcli

// flatMemory is the bzimage.Memory/acpi.Memory implementation this
// console hands images off through: a sparse map from absolute address
// to the bytes last written there, the same shape as the test doubles
// both packages use, since the boot console has no real physical RAM
// to back placement against.
type flatMemory struct {
	writes map[uint32][]byte
}

func newFlatMemory() *flatMemory {
	return &flatMemory{writes: make(map[uint32][]byte)}
}

func (m *flatMemory) WriteAt(addr uint32, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.writes[addr] = cp
	return nil
}
