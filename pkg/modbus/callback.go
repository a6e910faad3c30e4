package modbus

// ReadCallback receives the outcome of a read. Exactly one method is called
// per executed read.
type ReadCallback interface {
	OnBits(req ReadRequest, bits []bool)
	OnRegisters(req ReadRequest, registers []uint16)
	OnError(req ReadRequest, err error)
}

// WriteCallback receives the outcome of a write. Exactly one method is called
// per executed write.
type WriteCallback interface {
	OnWriteResponse(req WriteRequest, resp WriteResponse)
	OnError(req WriteRequest, err error)
}

// ReadFuncs adapts plain functions to a ReadCallback. Nil functions are skipped.
type ReadFuncs struct {
	Bits      func(req ReadRequest, bits []bool)
	Registers func(req ReadRequest, registers []uint16)
	Error     func(req ReadRequest, err error)
}

var _ ReadCallback = ReadFuncs{}

func (f ReadFuncs) OnBits(req ReadRequest, bits []bool) {
	if f.Bits != nil {
		f.Bits(req, bits)
	}
}

func (f ReadFuncs) OnRegisters(req ReadRequest, registers []uint16) {
	if f.Registers != nil {
		f.Registers(req, registers)
	}
}

func (f ReadFuncs) OnError(req ReadRequest, err error) {
	if f.Error != nil {
		f.Error(req, err)
	}
}

// WriteFuncs adapts plain functions to a WriteCallback. Nil functions are skipped.
type WriteFuncs struct {
	Response func(req WriteRequest, resp WriteResponse)
	Error    func(req WriteRequest, err error)
}

var _ WriteCallback = WriteFuncs{}

func (f WriteFuncs) OnWriteResponse(req WriteRequest, resp WriteResponse) {
	if f.Response != nil {
		f.Response(req, resp)
	}
}

func (f WriteFuncs) OnError(req WriteRequest, err error) {
	if f.Error != nil {
		f.Error(req, err)
	}
}
