package blesvc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	bluezBusName         = "org.bluez"
	bluezAdapterIface    = "org.bluez.Adapter1"
	bluezDeviceIface     = "org.bluez.Device1"
	bluezGattCharIface   = "org.bluez.GattCharacteristic1"
	dbusPropertiesIface  = "org.freedesktop.DBus.Properties"
	dbusObjectManager    = "org.freedesktop.DBus.ObjectManager"
	connectTimeout       = 10 * time.Second
	servicesResolvedWait = 15 * time.Second
)

// ControllerInfo describes a controller seen during a scan.
type ControllerInfo struct {
	Address string
	Name    string
	RSSI    int16
}

type characteristics struct {
	measurement dbus.ObjectPath
	control     dbus.ObjectPath
	response    dbus.ObjectPath
}

// deviceObjectPath maps a MAC address onto the BlueZ object tree:
// "AA:BB:CC:DD:EE:FF" becomes "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, strings.ReplaceAll(address, ":", "_")))
}

// scanForController runs LE discovery until the left controller shows
// up or the scan timeout expires.
func (s *Service) scanForController(ctx context.Context) (ControllerInfo, error) {
	s.log.Info("Scanning for left controller",
		zap.String("adapter", s.config.Adapter),
		zap.Duration("timeout", s.config.ScanTimeout),
	)
	found, err := discoverControllers(ctx, s.conn, s.config.Adapter, s.config.ScanTimeout, true)
	if err != nil {
		return ControllerInfo{}, err
	}
	if len(found) == 0 {
		return ControllerInfo{}, fmt.Errorf("no left controller found within %v", s.config.ScanTimeout)
	}
	s.log.Info("Identified left controller",
		zap.String("address", found[0].Address),
		zap.String("name", found[0].Name),
	)
	return found[0], nil
}

// DiscoverControllers scans for left Ride controllers on the given
// adapter for the full duration and returns everything that matched.
// It backs the scan CLI command and needs no running service.
func DiscoverControllers(ctx context.Context, adapter string, timeout time.Duration) ([]ControllerInfo, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system dbus: %w", err)
	}
	return discoverControllers(ctx, conn, adapter, timeout, false)
}

func discoverControllers(ctx context.Context, conn *dbus.Conn, adapter string, timeout time.Duration, stopAtFirst bool) ([]ControllerInfo, error) {
	adapterObj := conn.Object(bluezBusName, dbus.ObjectPath("/org/bluez/"+adapter))

	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
	}
	if call := adapterObj.Call(bluezAdapterIface+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return nil, fmt.Errorf("failed to set discovery filter: %w", call.Err)
	}
	if call := adapterObj.Call(bluezAdapterIface+".StartDiscovery", 0); call.Err != nil {
		return nil, fmt.Errorf("failed to start discovery: %w", call.Err)
	}
	defer adapterObj.Call(bluezAdapterIface+".StopDiscovery", 0)

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	seen := map[string]ControllerInfo{}
	for {
		select {
		case <-scanCtx.Done():
			return controllerList(seen), ctx.Err()
		case <-ticker.C:
			for _, info := range findLeftControllers(conn, adapter) {
				seen[info.Address] = info
			}
			if stopAtFirst && len(seen) > 0 {
				return controllerList(seen), nil
			}
		}
	}
}

func controllerList(seen map[string]ControllerInfo) []ControllerInfo {
	out := make([]ControllerInfo, 0, len(seen))
	for _, info := range seen {
		out = append(out, info)
	}
	return out
}

// findLeftControllers walks the BlueZ object tree for devices that are
// named like a Ride controller and whose manufacturer data carries the
// left device id.
func findLeftControllers(conn *dbus.Conn, adapter string) []ControllerInfo {
	objects, err := managedObjects(conn)
	if err != nil {
		return nil
	}

	prefix := "/org/bluez/" + adapter + "/"
	var found []ControllerInfo
	for path, ifaces := range objects {
		props, ok := ifaces[bluezDeviceIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		name, _ := variantAs[string](props, "Name")
		if !strings.Contains(name, rideName) {
			continue
		}
		if !isLeftController(props) {
			continue
		}
		address, ok := variantAs[string](props, "Address")
		if !ok {
			continue
		}
		rssi, _ := variantAs[int16](props, "RSSI")
		found = append(found, ControllerInfo{Address: address, Name: name, RSSI: rssi})
	}
	return found
}

// isLeftController checks the manufacturer data: entry 0x094a with a
// first byte of 8 identifies the left half of the pair.
func isLeftController(props map[string]dbus.Variant) bool {
	v, ok := props["ManufacturerData"]
	if !ok {
		return false
	}
	data, ok := v.Value().(map[uint16]dbus.Variant)
	if !ok {
		return false
	}
	entry, ok := data[manufacturerID]
	if !ok {
		return false
	}
	b, ok := entry.Value().([]byte)
	return ok && len(b) >= 1 && b[0] == leftDeviceID
}

func (s *Service) connectDevice(ctx context.Context, devicePath dbus.ObjectPath) error {
	if connected, err := getProperty[bool](s.conn, devicePath, bluezDeviceIface, "Connected"); err == nil && connected {
		return nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	device := s.conn.Object(bluezBusName, devicePath)
	if call := device.CallWithContext(connectCtx, bluezDeviceIface+".Connect", 0); call.Err != nil {
		return fmt.Errorf("bluez connect failed: %w", call.Err)
	}
	return nil
}

func (s *Service) disconnectDevice(devicePath dbus.ObjectPath) {
	s.conn.Object(bluezBusName, devicePath).Call(bluezDeviceIface+".Disconnect", 0)
}

func (s *Service) waitServicesResolved(ctx context.Context, devicePath dbus.ObjectPath) error {
	deadline := time.After(servicesResolvedWait)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("gatt service discovery timed out after %v", servicesResolvedWait)
		case <-ticker.C:
			resolved, err := getProperty[bool](s.conn, devicePath, bluezDeviceIface, "ServicesResolved")
			if err == nil && resolved {
				return nil
			}
		}
	}
}

// resolveCharacteristics locates the three Ride characteristics under
// the connected device.
func (s *Service) resolveCharacteristics(devicePath dbus.ObjectPath) (characteristics, error) {
	objects, err := managedObjects(s.conn)
	if err != nil {
		return characteristics{}, err
	}

	var chars characteristics
	prefix := string(devicePath) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[bluezGattCharIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		uuid, ok := variantAs[string](props, "UUID")
		if !ok {
			continue
		}
		switch strings.ToLower(uuid) {
		case measurementCharUUID:
			chars.measurement = path
		case controlCharUUID:
			chars.control = path
		case responseCharUUID:
			chars.response = path
		}
	}
	if chars.measurement == "" || chars.control == "" || chars.response == "" {
		return characteristics{}, fmt.Errorf("ride characteristics not found on device %s", devicePath)
	}
	return chars, nil
}

func (s *Service) startNotify(path dbus.ObjectPath) error {
	if call := s.conn.Object(bluezBusName, path).Call(bluezGattCharIface+".StartNotify", 0); call.Err != nil {
		return fmt.Errorf("start notify on %s failed: %w", path, call.Err)
	}
	return nil
}

func (s *Service) stopNotify(path dbus.ObjectPath) {
	s.conn.Object(bluezBusName, path).Call(bluezGattCharIface+".StopNotify", 0)
}

func (s *Service) writeCharacteristic(path dbus.ObjectPath, data []byte) error {
	call := s.conn.Object(bluezBusName, path).Call(bluezGattCharIface+".WriteValue", 0, data, map[string]dbus.Variant{})
	if call.Err != nil {
		return fmt.Errorf("characteristic write failed: %w", call.Err)
	}
	return nil
}

func (s *Service) addPropertiesMatch(path dbus.ObjectPath) error {
	rule := fmt.Sprintf(
		"type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'",
		bluezBusName, dbusPropertiesIface, path,
	)
	call := s.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule)
	if call.Err != nil {
		return fmt.Errorf("failed to add signal match: %w", call.Err)
	}
	return nil
}

func (s *Service) removePropertiesMatch(path dbus.ObjectPath) {
	rule := fmt.Sprintf(
		"type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'",
		bluezBusName, dbusPropertiesIface, path,
	)
	s.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
}

func managedObjects(conn *dbus.Conn) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := conn.Object(bluezBusName, "/").Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects failed: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("failed to parse managed objects: %w", err)
	}
	return objects, nil
}

func getProperty[T any](conn *dbus.Conn, path dbus.ObjectPath, iface, property string) (T, error) {
	var zero T
	variant, err := conn.Object(bluezBusName, path).GetProperty(iface + "." + property)
	if err != nil {
		return zero, err
	}
	val, ok := variant.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, variant.Value())
	}
	return val, nil
}

func variantAs[T any](props map[string]dbus.Variant, key string) (T, bool) {
	var zero T
	v, ok := props[key]
	if !ok {
		return zero, false
	}
	val, ok := v.Value().(T)
	return val, ok
}
