package client

import (
	"math"

	"github.com/sessamekesh/kbengine-netcode-client/pkg/events"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/memstream"
	"go.uber.org/zap"
)

// geometryMappingKey is the space data key naming a space's geometry.
const geometryMappingKey = "_mapping"

// angleUnit converts a packed int8 angle to radians.
const angleUnit = math.Pi / 128

func unpackAngle(v int8) float32 {
	return float32(float64(v) * angleUnit)
}

//
// Streamed downloads

func (c *Client) onStreamDataStarted(body *memstream.MemoryStream) error {
	id, err := body.ReadInt16()
	if err != nil {
		return err
	}
	size, err := body.ReadUint32()
	if err != nil {
		return err
	}
	descr, err := body.ReadString()
	if err != nil {
		return err
	}
	c.dispatcher.Fire(events.StreamDataStarted{ID: id, Size: size, Description: descr})
	return nil
}

func (c *Client) onStreamDataRecv(body *memstream.MemoryStream) error {
	id, err := body.ReadInt16()
	if err != nil {
		return err
	}
	data, err := body.ReadBlob()
	if err != nil {
		return err
	}
	// The blob views the packet buffer, which the transport may reuse.
	c.dispatcher.Fire(events.StreamDataRecv{ID: id, Data: append([]byte(nil), data...)})
	return nil
}

func (c *Client) onStreamDataCompleted(body *memstream.MemoryStream) error {
	id, err := body.ReadInt16()
	if err != nil {
		return err
	}
	c.dispatcher.Fire(events.StreamDataCompleted{ID: id})
	return nil
}

//
// Entities

func (c *Client) onEntityEnterWorld(body *memstream.MemoryStream) error {
	eid, err := body.ReadInt32()
	if err != nil {
		return err
	}

	var entityType uint16
	if c.config.WideEntityTypeIDs {
		entityType, err = body.ReadUint16()
	} else {
		var narrow uint8
		narrow, err = body.ReadUint8()
		entityType = uint16(narrow)
	}
	if err != nil {
		return err
	}

	isOnGround := false
	if !body.ReadEOF() {
		v, err := body.ReadInt8()
		if err != nil {
			return err
		}
		isOnGround = v > 0
	}

	c.dispatcher.Fire(events.EnterWorld{EntityID: eid, EntityType: entityType, IsOnGround: isOnGround})
	return nil
}

func (c *Client) onEntityLeaveWorld(body *memstream.MemoryStream) error {
	eid, err := body.ReadInt32()
	if err != nil {
		return err
	}
	delete(c.positions, eid)
	c.dispatcher.Fire(events.LeaveWorld{EntityID: eid})
	return nil
}

//
// Positions

func (c *Client) onSetEntityPosAndDir(body *memstream.MemoryStream) error {
	eid, err := body.ReadInt32()
	if err != nil {
		return err
	}
	var v [6]float32
	for i := range v {
		if v[i], err = body.ReadFloat(); err != nil {
			return err
		}
	}

	position := events.Vector3{X: v[0], Y: v[1], Z: v[2]}
	c.positions[eid] = position
	c.dispatcher.Fire(events.SetPosition{EntityID: eid, Position: position})
	// Wire order is yaw, pitch, roll.
	c.dispatcher.Fire(events.SetDirection{EntityID: eid, Direction: events.Vector3{X: v[5], Y: v[4], Z: v[3]}})
	return nil
}

func (c *Client) onUpdateBasePos(body *memstream.MemoryStream) error {
	x, err := body.ReadFloat()
	if err != nil {
		return err
	}
	y, err := body.ReadFloat()
	if err != nil {
		return err
	}
	z, err := body.ReadFloat()
	if err != nil {
		return err
	}
	c.updatePosition(c.entityID, x, y, z, true)
	return nil
}

func (c *Client) onUpdateBasePosXZ(body *memstream.MemoryStream) error {
	x, err := body.ReadFloat()
	if err != nil {
		return err
	}
	z, err := body.ReadFloat()
	if err != nil {
		return err
	}
	c.updatePosition(c.entityID, x, 0, z, false)
	return nil
}

func (c *Client) onUpdateDataXZ(body *memstream.MemoryStream) error {
	eid, err := body.ReadInt32()
	if err != nil {
		return err
	}
	x, z, err := body.ReadPackXZ()
	if err != nil {
		return err
	}
	c.updatePosition(eid, x, 0, z, false)
	return nil
}

func (c *Client) onUpdateDataXYZ(body *memstream.MemoryStream) error {
	eid, err := body.ReadInt32()
	if err != nil {
		return err
	}
	x, z, err := body.ReadPackXZ()
	if err != nil {
		return err
	}
	y, err := body.ReadPackY()
	if err != nil {
		return err
	}
	c.updatePosition(eid, x, y, z, true)
	return nil
}

func (c *Client) onUpdateDataYPR(body *memstream.MemoryStream) error {
	eid, err := body.ReadInt32()
	if err != nil {
		return err
	}
	direction, err := readPackedDirection(body)
	if err != nil {
		return err
	}
	c.dispatcher.Fire(events.SetDirection{EntityID: eid, Direction: direction})
	return nil
}

func (c *Client) onUpdateDataXYZYPR(body *memstream.MemoryStream) error {
	eid, err := body.ReadInt32()
	if err != nil {
		return err
	}
	x, z, err := body.ReadPackXZ()
	if err != nil {
		return err
	}
	y, err := body.ReadPackY()
	if err != nil {
		return err
	}
	direction, err := readPackedDirection(body)
	if err != nil {
		return err
	}
	c.updatePosition(eid, x, y, z, true)
	c.dispatcher.Fire(events.SetDirection{EntityID: eid, Direction: direction})
	return nil
}

// readPackedDirection reads yaw, pitch and roll as int8 angles.
func readPackedDirection(body *memstream.MemoryStream) (events.Vector3, error) {
	var ypr [3]int8
	for i := range ypr {
		v, err := body.ReadInt8()
		if err != nil {
			return events.Vector3{}, err
		}
		ypr[i] = v
	}
	return events.Vector3{X: unpackAngle(ypr[2]), Y: unpackAngle(ypr[1]), Z: unpackAngle(ypr[0])}, nil
}

// updatePosition fires UpdatePosition. Without hasY the last known height
// of the entity is kept.
func (c *Client) updatePosition(eid int32, x float32, y float32, z float32, hasY bool) {
	if !hasY {
		y = c.positions[eid].Y
	}
	position := events.Vector3{X: x, Y: y, Z: z}
	c.positions[eid] = position
	c.dispatcher.Fire(events.UpdatePosition{EntityID: eid, Position: position, HasY: hasY})
}

//
// Spaces

// onInitSpaceData reads spaceID followed by key/value pairs up to the end of
// the body.
func (c *Client) onInitSpaceData(body *memstream.MemoryStream) error {
	spaceID, err := body.ReadUint32()
	if err != nil {
		return err
	}
	for !body.ReadEOF() {
		key, err := body.ReadString()
		if err != nil {
			return err
		}
		value, err := body.ReadString()
		if err != nil {
			return err
		}
		c.setSpaceData(spaceID, key, value)
	}
	return nil
}

func (c *Client) onSetSpaceData(body *memstream.MemoryStream) error {
	spaceID, err := body.ReadUint32()
	if err != nil {
		return err
	}
	key, err := body.ReadString()
	if err != nil {
		return err
	}
	value, err := body.ReadString()
	if err != nil {
		return err
	}
	c.setSpaceData(spaceID, key, value)
	return nil
}

func (c *Client) setSpaceData(spaceID uint32, key string, value string) {
	c.log.Debug("Space data", zap.Uint32("spaceId", spaceID), zap.String("key", key))
	c.dispatcher.Fire(events.SetSpaceData{SpaceID: spaceID, Key: key, Value: value})
	if key == geometryMappingKey {
		c.dispatcher.Fire(events.AddSpaceGeometryMapping{SpaceID: spaceID, ResPath: value})
	}
}

func (c *Client) onDelSpaceData(body *memstream.MemoryStream) error {
	spaceID, err := body.ReadUint32()
	if err != nil {
		return err
	}
	key, err := body.ReadString()
	if err != nil {
		return err
	}
	c.dispatcher.Fire(events.DelSpaceData{SpaceID: spaceID, Key: key})
	return nil
}
