package goble

import (
	"fmt"

	"github.com/srg/blecm/internal/device"
)

var errNoCoc = fmt.Errorf("go-ble has no l2cap coc api: %w", device.ErrNotSupported)

func (h *Host) CocCreateServer(uint16, uint16) error                 { return errNoCoc }
func (h *Host) CocConnect(uint16, uint16, uint16, int, uint64) error { return errNoCoc }
func (h *Host) CocAccept(device.ChanHandle, uint16, int) error       { return errNoCoc }
func (h *Host) CocSend(device.ChanHandle, []byte) error              { return errNoCoc }
func (h *Host) CocRecvReady(device.ChanHandle, int) error            { return errNoCoc }
func (h *Host) CocDisconnect(device.ChanHandle) error                { return errNoCoc }
func (h *Host) CocReconfigure([]device.ChanHandle, uint16) error     { return errNoCoc }
func (h *Host) CocChanInfo(device.ChanHandle) (device.ChanInfo, error) {
	return device.ChanInfo{}, errNoCoc
}

var _ device.Host = (*Host)(nil)
