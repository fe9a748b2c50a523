package radio

// nRF24L01+ registers
const (
	regConfig    = 0x00
	regEnAA      = 0x01
	regEnRxAddr  = 0x02
	regSetupAW   = 0x03
	regSetupRetr = 0x04
	regRFCh      = 0x05
	regRFSetup   = 0x06
	regStatus    = 0x07
	regObserveTx = 0x08
	regRPD       = 0x09
	regRxAddrP0  = 0x0A
	regRxAddrP1  = 0x0B
	regTxAddr    = 0x10
	regDynPD     = 0x1C
	regFeature   = 0x1D
)

// SPI commands
const (
	cmdWRegister  = 0x20
	cmdRRxPlWid   = 0x60
	cmdRRxPayload = 0x61
	cmdWTxPayload = 0xA0
	cmdFlushTx    = 0xE1
	cmdFlushRx    = 0xE2
	cmdNop        = 0xFF
)

// register bits
const (
	bitPrimRx = 1 << 0
	bitPwrUp  = 1 << 1
	bitCRCO   = 1 << 2
	bitEnCRC  = 1 << 3

	bitMaxRt = 1 << 4
	bitTxDs  = 1 << 5
	bitRxDr  = 1 << 6

	bitEnDynAck = 1 << 0
	bitEnDPL    = 1 << 2

	rfDrHigh = 1 << 3
	rfDrLow  = 1 << 5

	allPipes = 0x3F
	// RX_P_NO value for an empty RX FIFO
	rxEmpty = 0x07
)
