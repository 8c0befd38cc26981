package api

import (
	"context"

	"github.com/tiiuae/vhotplug/orchestrator"
)

func (s *Server) handleUsbList(ctx context.Context, h *connHandler) {
	views, err := s.orch.UsbList(ctx)
	if err != nil {
		_ = h.writeJSON(failed(errString(err)))
		return
	}

	resp := ok()
	resp.UsbDevices = make([]usbDeviceJSON, len(views))

	for i, v := range views {
		resp.UsbDevices[i] = toUsbJSON(v)
	}

	_ = h.writeJSON(resp)
}

func (s *Server) handlePciList(ctx context.Context, h *connHandler) {
	views, err := s.orch.PciList(ctx)
	if err != nil {
		_ = h.writeJSON(failed(errString(err)))
		return
	}

	resp := ok()
	resp.PciDevices = make([]pciDeviceJSON, len(views))

	for i, v := range views {
		resp.PciDevices[i] = toPciJSON(v)
	}

	_ = h.writeJSON(resp)
}

func (s *Server) handleUsbAttach(ctx context.Context, h *connHandler, req requestEnvelope) {
	if req.Vm == "" {
		_ = h.writeJSON(failed("missing vm"))
		return
	}

	if err := s.orch.UsbAttach(ctx, usbSelectorFromRequest(req), req.Vm); err != nil {
		_ = h.writeJSON(failed(errString(err)))
		return
	}

	_ = h.writeJSON(ok())
}

func (s *Server) handleUsbDetach(ctx context.Context, h *connHandler, req requestEnvelope) {
	if err := s.orch.UsbDetach(ctx, usbSelectorFromRequest(req)); err != nil {
		_ = h.writeJSON(failed(errString(err)))
		return
	}

	_ = h.writeJSON(ok())
}

func (s *Server) handlePciAttach(ctx context.Context, h *connHandler, req requestEnvelope) {
	if req.Vm == "" {
		_ = h.writeJSON(failed("missing vm"))
		return
	}

	if err := s.orch.PciAttach(ctx, pciSelectorFromRequest(req), req.Vm); err != nil {
		_ = h.writeJSON(failed(errString(err)))
		return
	}

	_ = h.writeJSON(ok())
}

func (s *Server) handlePciDetach(ctx context.Context, h *connHandler, req requestEnvelope) {
	if err := s.orch.PciDetach(ctx, pciSelectorFromRequest(req)); err != nil {
		_ = h.writeJSON(failed(errString(err)))
		return
	}

	_ = h.writeJSON(ok())
}

func usbSelectorFromRequest(req requestEnvelope) orchestrator.UsbSelector {
	sel := orchestrator.UsbSelector{
		DeviceNode: req.DeviceNode,
		Port:       req.Port,
		Vid:        req.Vid,
		Pid:        req.Pid,
	}

	if req.Bus != nil {
		sel.Bus = *req.Bus
	}

	return sel
}

func pciSelectorFromRequest(req requestEnvelope) orchestrator.PciSelector {
	return orchestrator.PciSelector{
		Address: req.Address,
		Vid:     req.Vid,
		Did:     req.Did,
	}
}

func toUsbJSON(v orchestrator.UsbDeviceView) usbDeviceJSON {
	return usbDeviceJSON{
		DeviceNode:  v.DeviceNode,
		Vid:         v.Vid,
		Pid:         v.Pid,
		VendorName:  v.VendorName,
		ProductName: v.ProductName,
		Bus:         v.Bus,
		Port:        v.Port,
		AllowedVms:  v.AllowedVms,
		Vm:          v.Vm,
	}
}

func toPciJSON(v orchestrator.PciDeviceView) pciDeviceJSON {
	return pciDeviceJSON{
		Address:     v.Address,
		Vid:         v.Vid,
		Did:         v.Did,
		Description: v.Description,
		AllowedVms:  v.AllowedVms,
		Vm:          v.Vm,
	}
}
