package pkt

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/cxlfab/pkg"
)

func putBool(buf []byte, v bool) {
	if v {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
}

func getBool(buf []byte) bool { return buf[0] != 0 }

// Encode serializes p little-endian into a byte slice, one fixed layout
// per Kind, the same field-at-a-time convention CfgCompletion.MarshalTo
// already uses. It is the wire form hal/tcp frames carry over the
// external port fabric socket.
func Encode(p Packet) ([]byte, error) {
	switch v := p.(type) {
	case *CfgReq:
		buf := make([]byte, 14)
		binary.LittleEndian.PutUint16(buf[0:], v.ReqID)
		buf[2] = v.Tag
		binary.LittleEndian.PutUint16(buf[3:], uint16(v.Target))
		buf[5] = uint8(v.Type)
		binary.LittleEndian.PutUint16(buf[6:], v.Offset)
		buf[8] = v.Size
		putBool(buf[9:], v.IsWrite)
		binary.LittleEndian.PutUint32(buf[10:], v.Data)
		return buf, nil
	case *CfgCompletion:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint16(buf[0:], v.ReqID)
		buf[2] = v.Tag
		buf[3] = v.Status
		binary.LittleEndian.PutUint32(buf[4:], v.Data)
		return buf, nil
	case *MMIOReq:
		buf := make([]byte, 21)
		binary.LittleEndian.PutUint16(buf[0:], v.ReqID)
		buf[2] = v.Tag
		binary.LittleEndian.PutUint64(buf[3:], v.Address)
		buf[11] = v.Size
		putBool(buf[12:], v.IsWrite)
		binary.LittleEndian.PutUint64(buf[13:], v.Data)
		return buf, nil
	case *MMIOCompletion:
		buf := make([]byte, 12)
		binary.LittleEndian.PutUint16(buf[0:], v.ReqID)
		buf[2] = v.Tag
		buf[3] = v.Status
		binary.LittleEndian.PutUint64(buf[4:], v.Data)
		return buf, nil
	case *M2SReq:
		return encodeM2SReq(v), nil
	case *M2SRwD:
		buf := append(encodeM2SReq(&v.M2SReq), v.Data[:]...)
		return buf, nil
	case *S2MNDR:
		buf := make([]byte, 5)
		binary.LittleEndian.PutUint16(buf[0:], v.Tag)
		buf[2] = uint8(v.Opcode)
		buf[3] = uint8(v.MetaField)
		buf[4] = uint8(v.MetaValue)
		return buf, nil
	case *S2MDRS:
		buf := make([]byte, 66)
		binary.LittleEndian.PutUint16(buf[0:], v.Tag)
		copy(buf[2:], v.Data[:])
		return buf, nil
	case *S2MBISnp:
		buf := make([]byte, 11)
		binary.LittleEndian.PutUint64(buf[0:], v.Addr)
		buf[8] = uint8(v.Opcode)
		buf[9] = v.BIID
		buf[10] = v.BITag
		return buf, nil
	case *M2SBIRsp:
		return []byte{uint8(v.Opcode), v.BIID, v.BITag}, nil
	case *H2DReq:
		buf := make([]byte, 12)
		binary.LittleEndian.PutUint16(buf[0:], v.UQID)
		binary.LittleEndian.PutUint64(buf[2:], v.Addr)
		buf[10] = uint8(v.Opcode)
		buf[11] = v.CacheID
		return buf, nil
	case *H2DRsp:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint16(buf[0:], v.UQID)
		buf[2] = uint8(v.Opcode)
		buf[3] = uint8(v.CacheState)
		return buf, nil
	case *H2DData:
		buf := make([]byte, 66)
		binary.LittleEndian.PutUint16(buf[0:], v.UQID)
		copy(buf[2:], v.Data[:])
		return buf, nil
	case *D2HReq:
		buf := make([]byte, 12)
		binary.LittleEndian.PutUint16(buf[0:], v.CQID)
		binary.LittleEndian.PutUint64(buf[2:], v.Addr)
		buf[10] = uint8(v.Opcode)
		buf[11] = v.CacheID
		return buf, nil
	case *D2HRsp:
		buf := make([]byte, 3)
		binary.LittleEndian.PutUint16(buf[0:], v.UQID)
		buf[2] = uint8(v.Opcode)
		return buf, nil
	case *D2HData:
		buf := make([]byte, 66)
		binary.LittleEndian.PutUint16(buf[0:], v.UQID)
		copy(buf[2:], v.Data[:])
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %T", pkg.ErrUnknownOpcode, p)
	}
}

func encodeM2SReq(v *M2SReq) []byte {
	buf := make([]byte, 14)
	binary.LittleEndian.PutUint16(buf[0:], v.Tag)
	binary.LittleEndian.PutUint64(buf[2:], v.Addr)
	buf[10] = uint8(v.Opcode)
	buf[11] = uint8(v.MetaField)
	buf[12] = uint8(v.MetaValue)
	buf[13] = uint8(v.SnpType)
	return buf
}

func decodeM2SReq(buf []byte) (M2SReq, error) {
	if len(buf) < 14 {
		return M2SReq{}, pkg.ErrShortPacket
	}
	return M2SReq{
		Tag:       binary.LittleEndian.Uint16(buf[0:]),
		Addr:      binary.LittleEndian.Uint64(buf[2:]),
		Opcode:    M2SOpcode(buf[10]),
		MetaField: MetaField(buf[11]),
		MetaValue: MetaValue(buf[12]),
		SnpType:   SnoopType(buf[13]),
	}, nil
}

// Decode reconstructs the packet of the given kind from buf, the
// inverse of Encode.
func Decode(kind Kind, buf []byte) (Packet, error) {
	switch kind {
	case KindCfgReq:
		if len(buf) < 14 {
			return nil, pkg.ErrShortPacket
		}
		return &CfgReq{
			ReqID:   binary.LittleEndian.Uint16(buf[0:]),
			Tag:     buf[2],
			Target:  BDF(binary.LittleEndian.Uint16(buf[3:])),
			Type:    CfgType(buf[5]),
			Offset:  binary.LittleEndian.Uint16(buf[6:]),
			Size:    buf[8],
			IsWrite: getBool(buf[9:]),
			Data:    binary.LittleEndian.Uint32(buf[10:]),
		}, nil
	case KindCfgCompletion:
		if len(buf) < 8 {
			return nil, pkg.ErrShortPacket
		}
		return &CfgCompletion{
			ReqID:  binary.LittleEndian.Uint16(buf[0:]),
			Tag:    buf[2],
			Status: buf[3],
			Data:   binary.LittleEndian.Uint32(buf[4:]),
		}, nil
	case KindMMIOReq:
		if len(buf) < 21 {
			return nil, pkg.ErrShortPacket
		}
		return &MMIOReq{
			ReqID:   binary.LittleEndian.Uint16(buf[0:]),
			Tag:     buf[2],
			Address: binary.LittleEndian.Uint64(buf[3:]),
			Size:    buf[11],
			IsWrite: getBool(buf[12:]),
			Data:    binary.LittleEndian.Uint64(buf[13:]),
		}, nil
	case KindMMIOCompletion:
		if len(buf) < 12 {
			return nil, pkg.ErrShortPacket
		}
		return &MMIOCompletion{
			ReqID:  binary.LittleEndian.Uint16(buf[0:]),
			Tag:    buf[2],
			Status: buf[3],
			Data:   binary.LittleEndian.Uint64(buf[4:]),
		}, nil
	case KindM2SReq:
		req, err := decodeM2SReq(buf)
		if err != nil {
			return nil, err
		}
		return &req, nil
	case KindM2SRwD:
		req, err := decodeM2SReq(buf)
		if err != nil {
			return nil, err
		}
		if len(buf) < 14+CacheLineSize {
			return nil, pkg.ErrShortPacket
		}
		rwd := &M2SRwD{M2SReq: req}
		copy(rwd.Data[:], buf[14:14+CacheLineSize])
		return rwd, nil
	case KindS2MNDR:
		if len(buf) < 5 {
			return nil, pkg.ErrShortPacket
		}
		return &S2MNDR{
			Tag:       binary.LittleEndian.Uint16(buf[0:]),
			Opcode:    S2MOpcode(buf[2]),
			MetaField: MetaField(buf[3]),
			MetaValue: MetaValue(buf[4]),
		}, nil
	case KindS2MDRS:
		if len(buf) < 2+CacheLineSize {
			return nil, pkg.ErrShortPacket
		}
		drs := &S2MDRS{Tag: binary.LittleEndian.Uint16(buf[0:])}
		copy(drs.Data[:], buf[2:2+CacheLineSize])
		return drs, nil
	case KindS2MBISnp:
		if len(buf) < 11 {
			return nil, pkg.ErrShortPacket
		}
		return &S2MBISnp{
			Addr:   binary.LittleEndian.Uint64(buf[0:]),
			Opcode: BIOpcode(buf[8]),
			BIID:   buf[9],
			BITag:  buf[10],
		}, nil
	case KindM2SBIRsp:
		if len(buf) < 3 {
			return nil, pkg.ErrShortPacket
		}
		return &M2SBIRsp{Opcode: BIRspOpcode(buf[0]), BIID: buf[1], BITag: buf[2]}, nil
	case KindH2DReq:
		if len(buf) < 12 {
			return nil, pkg.ErrShortPacket
		}
		return &H2DReq{
			UQID:    binary.LittleEndian.Uint16(buf[0:]),
			Addr:    binary.LittleEndian.Uint64(buf[2:]),
			Opcode:  H2DOpcode(buf[10]),
			CacheID: buf[11],
		}, nil
	case KindH2DRsp:
		if len(buf) < 4 {
			return nil, pkg.ErrShortPacket
		}
		return &H2DRsp{
			UQID:       binary.LittleEndian.Uint16(buf[0:]),
			Opcode:     H2DRspOpcode(buf[2]),
			CacheState: CacheState(buf[3]),
		}, nil
	case KindH2DData:
		if len(buf) < 2+CacheLineSize {
			return nil, pkg.ErrShortPacket
		}
		d := &H2DData{UQID: binary.LittleEndian.Uint16(buf[0:])}
		copy(d.Data[:], buf[2:2+CacheLineSize])
		return d, nil
	case KindD2HReq:
		if len(buf) < 12 {
			return nil, pkg.ErrShortPacket
		}
		return &D2HReq{
			CQID:    binary.LittleEndian.Uint16(buf[0:]),
			Addr:    binary.LittleEndian.Uint64(buf[2:]),
			Opcode:  D2HOpcode(buf[10]),
			CacheID: buf[11],
		}, nil
	case KindD2HRsp:
		if len(buf) < 3 {
			return nil, pkg.ErrShortPacket
		}
		return &D2HRsp{UQID: binary.LittleEndian.Uint16(buf[0:]), Opcode: D2HRspOpcode(buf[2])}, nil
	case KindD2HData:
		if len(buf) < 2+CacheLineSize {
			return nil, pkg.ErrShortPacket
		}
		d := &D2HData{UQID: binary.LittleEndian.Uint16(buf[0:])}
		copy(d.Data[:], buf[2:2+CacheLineSize])
		return d, nil
	default:
		return nil, pkg.ErrUnknownOpcode
	}
}
