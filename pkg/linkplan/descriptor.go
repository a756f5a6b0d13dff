package linkplan

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
)

// Boundary descriptor table: the binary manifest binding boundary call sites
// to their live code entries. One record per Boundary/Mixed call site. A
// pure-static build emits an empty table.
//
// Layout, all integers big-endian:
//
//	magic "LDBT" | u16 version | u32 record count | records...
//	record: str call_site_id | str unit_id |
//	        u16 variant count | u64 variant entries... |
//	        u64 generic_entry | u32 deopt_table_offset
//	str: u16 length | bytes
const (
	descriptorMagic   = "LDBT"
	descriptorVersion = 1
)

// DescriptorRecord binds one boundary call site to its code entries.
type DescriptorRecord struct {
	CallSite         ir.CallSiteID
	Unit             ir.UnitID
	VariantEntries   []uint64
	GenericEntry     uint64
	DeoptTableOffset uint32
}

// DescriptorTable is the full table for one build.
type DescriptorTable struct {
	Records []DescriptorRecord
}

// Empty reports whether the table carries no records.
func (t *DescriptorTable) Empty() bool { return t == nil || len(t.Records) == 0 }

// Encode serialises the table.
func (t *DescriptorTable) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(descriptorMagic)
	if err := binary.Write(&buf, binary.BigEndian, uint16(descriptorVersion)); err != nil {
		return nil, err
	}
	var records []DescriptorRecord
	if t != nil {
		records = t.Records
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(records))); err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := writeString(&buf, string(rec.CallSite)); err != nil {
			return nil, err
		}
		if err := writeString(&buf, string(rec.Unit)); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(rec.VariantEntries))); err != nil {
			return nil, err
		}
		for _, entry := range rec.VariantEntries {
			if err := binary.Write(&buf, binary.BigEndian, entry); err != nil {
				return nil, err
			}
		}
		if err := binary.Write(&buf, binary.BigEndian, rec.GenericEntry); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, rec.DeoptTableOffset); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeDescriptorTable parses an encoded table.
func DecodeDescriptorTable(data []byte) (*DescriptorTable, error) {
	r := bytes.NewReader(data)
	magic := make([]byte, len(descriptorMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("linkplan: descriptor table: %w", err)
	}
	if string(magic) != descriptorMagic {
		return nil, fmt.Errorf("linkplan: descriptor table: bad magic %q", magic)
	}
	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("linkplan: descriptor table: %w", err)
	}
	if version != descriptorVersion {
		return nil, fmt.Errorf("linkplan: descriptor table: unsupported version %d", version)
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("linkplan: descriptor table: %w", err)
	}
	table := &DescriptorTable{}
	for i := uint32(0); i < count; i++ {
		var rec DescriptorRecord
		site, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("linkplan: descriptor record %d: %w", i, err)
		}
		unit, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("linkplan: descriptor record %d: %w", i, err)
		}
		rec.CallSite = ir.CallSiteID(site)
		rec.Unit = ir.UnitID(unit)
		var variants uint16
		if err := binary.Read(r, binary.BigEndian, &variants); err != nil {
			return nil, fmt.Errorf("linkplan: descriptor record %d: %w", i, err)
		}
		for v := uint16(0); v < variants; v++ {
			var entry uint64
			if err := binary.Read(r, binary.BigEndian, &entry); err != nil {
				return nil, fmt.Errorf("linkplan: descriptor record %d: %w", i, err)
			}
			rec.VariantEntries = append(rec.VariantEntries, entry)
		}
		if err := binary.Read(r, binary.BigEndian, &rec.GenericEntry); err != nil {
			return nil, fmt.Errorf("linkplan: descriptor record %d: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &rec.DeoptTableOffset); err != nil {
			return nil, fmt.Errorf("linkplan: descriptor record %d: %w", i, err)
		}
		table.Records = append(table.Records, rec)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("linkplan: descriptor table: %d trailing bytes", r.Len())
	}
	return table, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("string too long (%d bytes)", len(s))
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", err
	}
	return string(out), nil
}
