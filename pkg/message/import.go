package message

import (
	"fmt"

	"github.com/sessamekesh/kbengine-netcode-client/pkg/memstream"
	"go.uber.org/zap"
)

// Import parses the body of Client_onImportClientMessages and registers every
// descriptor it lists. Handlers bound by name are attached as descriptors
// arrive.
func (r *Registry) Import(body *memstream.MemoryStream) (int, error) {
	descs, err := ReadDescriptorTable(body)
	if err != nil {
		return 0, err
	}
	return r.RegisterAll(descs)
}

// ReadDescriptorTable parses a descriptor table without registering it.
// Layout:
//
//	count:uint16 { id:uint16 len:int16 name:string argsType:int8 argc:uint8 argTypes:uint8[argc] }
func ReadDescriptorTable(body *memstream.MemoryStream) ([]Descriptor, error) {
	count, err := body.ReadUint16()
	if err != nil {
		return nil, err
	}

	descs := make([]Descriptor, 0, count)
	for i := 0; i < int(count); i++ {
		desc, err := readDescriptor(body)
		if err != nil {
			return nil, fmt.Errorf("descriptor %d of %d: %w", i, count, err)
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

// RegisterAll registers descs in order and stops at the first collision.
func (r *Registry) RegisterAll(descs []Descriptor) (int, error) {
	registered := 0
	for _, desc := range descs {
		if err := r.Register(desc); err != nil {
			return registered, err
		}
		registered++
	}

	r.log.Debug("Registered message descriptors", zap.Int("count", registered), zap.Int("registered", r.Len()))
	return registered, nil
}

func readDescriptor(body *memstream.MemoryStream) (Descriptor, error) {
	id, err := body.ReadUint16()
	if err != nil {
		return Descriptor{}, err
	}
	length, err := body.ReadInt16()
	if err != nil {
		return Descriptor{}, err
	}
	name, err := body.ReadString()
	if err != nil {
		return Descriptor{}, err
	}
	argsType, err := body.ReadInt8()
	if err != nil {
		return Descriptor{}, err
	}
	argc, err := body.ReadUint8()
	if err != nil {
		return Descriptor{}, err
	}

	args := make([]ArgType, argc)
	for i := range args {
		t, err := body.ReadUint8()
		if err != nil {
			return Descriptor{}, err
		}
		args[i] = ArgType(t)
	}

	return Descriptor{
		ID:       id,
		Name:     name,
		Length:   length,
		ArgsType: ArgsType(argsType),
		Args:     args,
	}, nil
}

// WriteDescriptorTable is the inverse of Import. It is used by tools and tests
// that play the server side of the handshake.
func WriteDescriptorTable(s *memstream.MemoryStream, descs []Descriptor) error {
	if err := s.WriteUint16(uint16(len(descs))); err != nil {
		return err
	}
	for _, desc := range descs {
		if err := s.WriteUint16(desc.ID); err != nil {
			return err
		}
		if err := s.WriteInt16(desc.Length); err != nil {
			return err
		}
		if err := s.WriteString(desc.Name); err != nil {
			return err
		}
		if err := s.WriteInt8(int8(desc.ArgsType)); err != nil {
			return err
		}
		if err := s.WriteUint8(uint8(len(desc.Args))); err != nil {
			return err
		}
		for _, t := range desc.Args {
			if err := s.WriteUint8(uint8(t)); err != nil {
				return err
			}
		}
	}
	return nil
}
