package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	sessionFormatVersionCurrent = 1
)

const (
	flagWindowOverride byte = 1 << iota
	flagFailure
)

var errFieldTooLong = errors.New("session field too long")

// Encode serializes s into the versioned binary format. The session ID is
// part of the key, not the value.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)
	buf.WriteByte(byte(s.State))

	var flags byte
	if s.WindowOverride {
		flags |= flagWindowOverride
	}
	if s.Failure != nil {
		flags |= flagFailure
	}
	buf.WriteByte(flags)

	fields := []string{
		s.AccessToken,
		s.Cookie,
		s.MFAChallengeRef,
		s.MFASignature,
		s.MemberID,
		s.ActivationCode,
		s.SSN,
		s.LPAString,
		s.MemberName,
		s.PhoneNumber,
		s.SIMStatus,
	}
	for _, f := range fields {
		if err := writeString(&buf, f); err != nil {
			return nil, err
		}
	}

	if s.Failure != nil {
		for _, f := range []string{s.Failure.Operation, s.Failure.Step, s.Failure.Kind, s.Failure.Message} {
			if err := writeString(&buf, f); err != nil {
				return nil, err
			}
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(s.Failure.Status)); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.UpdatedAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}

	state, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if State(state) > StateFailed {
		return nil, errors.New("invalid session state")
	}
	s.State = State(state)

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if flags&^(flagWindowOverride|flagFailure) != 0 {
		return nil, errors.New("invalid session flags")
	}
	s.WindowOverride = flags&flagWindowOverride != 0

	fields := []*string{
		&s.AccessToken,
		&s.Cookie,
		&s.MFAChallengeRef,
		&s.MFASignature,
		&s.MemberID,
		&s.ActivationCode,
		&s.SSN,
		&s.LPAString,
		&s.MemberName,
		&s.PhoneNumber,
		&s.SIMStatus,
	}
	for _, f := range fields {
		if *f, err = readString(reader); err != nil {
			return nil, err
		}
	}

	if flags&flagFailure != 0 {
		fail := &Failure{}
		for _, f := range []*string{&fail.Operation, &fail.Step, &fail.Kind, &fail.Message} {
			if *f, err = readString(reader); err != nil {
				return nil, err
			}
		}
		var status uint16
		if err := binary.Read(reader, binary.BigEndian, &status); err != nil {
			return nil, err
		}
		fail.Status = int(status)
		s.Failure = fail
	}

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}

	return s, nil
}

func writeString(buf *bytes.Buffer, v string) error {
	if len(v) > 0xFFFF {
		return errFieldTooLong
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(v))); err != nil {
		return err
	}
	buf.WriteString(v)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
