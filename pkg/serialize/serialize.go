package serialize

func ByteSizeString(data string) int {
	return 4 + len(data)
}

func SerializeString(writer *FrameWriter, data string) {
	SerializeUInt32(writer, uint32(len(data)))
	bs := writer.Next(len(data))
	copy(bs, data)
}

func DeserializeString(data *string, reader *Reader) error {
	var length uint32
	err := DeserializeUInt32(&length, reader)
	if err != nil {
		return err
	}

	bs, err := reader.Read(int(length))
	if err != nil {
		return err
	}
	*data = string(bs)
	return nil
}

func ByteSizeBool(bool) int {
	return 1
}

func SerializeBool(writer *FrameWriter, data bool) {
	val := uint8(0)
	if data {
		val = 1
	}
	SerializeUInt8(writer, val)
}

func DeserializeBool(data *bool, reader *Reader) error {
	bs, err := reader.Read(1)
	if err != nil {
		return err
	}
	if uint8(bs[0]) == 1 {
		*data = true
	} else {
		*data = false
	}
	return nil
}

func ByteSizeUInt8(uint8) int {
	return 1
}

func SerializeUInt8(writer *FrameWriter, data uint8) {
	bs := writer.Next(1)
	bs[0] = byte(data)
}

func DeserializeUInt8(data *uint8, reader *Reader) error {
	bs, err := reader.Read(1)
	if err != nil {
		return err
	}
	*data = uint8(bs[0])
	return nil
}

func ByteSizeUInt32(uint32) int {
	return 4
}

func SerializeUInt32(writer *FrameWriter, data uint32) {
	bs := writer.Next(4)
	bs[0] = byte(data >> 24)
	bs[1] = byte(data >> 16)
	bs[2] = byte(data >> 8)
	bs[3] = byte(data)
}

func DeserializeUInt32(data *uint32, reader *Reader) error {
	bs, err := reader.Read(4)
	if err != nil {
		return err
	}
	*data = uint32(bs[0])<<24 |
		uint32(bs[1])<<16 |
		uint32(bs[2])<<8 |
		uint32(bs[3])
	return nil
}

func ByteSizeBytes(data []byte) int {
	return 4 + len(data)
}

func SerializeBytes(writer *FrameWriter, data []byte) {
	SerializeUInt32(writer, uint32(len(data)))
	bs := writer.Next(len(data))
	copy(bs, data)
}

// DeserializeBytes copies the payload so it does not alias the reader's
// buffer.
func DeserializeBytes(data *[]byte, reader *Reader) error {
	var length uint32
	err := DeserializeUInt32(&length, reader)
	if err != nil {
		return err
	}

	bs, err := reader.Read(int(length))
	if err != nil {
		return err
	}
	*data = append([]byte(nil), bs...)
	return nil
}
