// Package smproto encodes and decodes the request/reply shapes for the
// three service-manager dialects (aidl, aidl2, hidl): transaction
// codes, interface-token headers, and the get/add/list payloads. It
// knows nothing about a Driver or a registry — the root package's
// ServiceManager supplies object descriptors and resolves remote
// handles.
package smproto

import (
	"github.com/mjkern/gobinder/internal/codec"
)

// Dialect names one of the three service-manager wire shapes. Kept
// independent of the root package's Dialect enum so this package never
// needs to import it.
type Dialect int

const (
	Aidl Dialect = iota
	Aidl2
	Hidl
)

// Interface descriptors advertised by the well-known service manager
// node in each dialect.
const (
	AidlDescriptor = "android.os.IServiceManager"
	HidlDescriptor = "android.hidl.manager@1.0::IServiceManager"
)

// Transaction codes, one block per dialect (see spec §4.8).
const (
	AidlGet    = 1
	AidlCheck  = 2
	AidlAdd    = 3
	AidlList   = 4
)

const (
	Aidl2Get   = 1
	Aidl2Check = 2
	Aidl2Add   = 3
	Aidl2List  = 4
)

const (
	HidlGet                     = 1
	HidlAdd                     = 2
	HidlGetTransport            = 3
	HidlList                    = 4
	HidlListByInterface         = 5
	HidlRegisterForNotifications = 6
	HidlDebug                   = 7
	HidlRegisterPassthrough     = 8
)

// HidlNotificationCode is the transaction a registered notification
// callback object receives when a watched name is (re-)registered.
const HidlNotificationCode = 1

// Descriptor returns the dialect's own interface descriptor, the token
// written ahead of every request to it.
func (d Dialect) Descriptor() string {
	if d == Hidl {
		return HidlDescriptor
	}
	return AidlDescriptor
}

// GetCode, AddCode, ListCode return this dialect's transaction code for
// the named operation. CheckCode is the aidl/aidl2 alias for a
// non-blocking presence check; hidl has no separate check call.
func (d Dialect) GetCode() uint32 {
	if d == Hidl {
		return HidlGet
	}
	return AidlGet
}

func (d Dialect) CheckCode() uint32 {
	if d == Hidl {
		return HidlGet
	}
	return AidlCheck
}

func (d Dialect) AddCode() uint32 {
	if d == Hidl {
		return HidlAdd
	}
	return AidlAdd
}

func (d Dialect) ListCode() uint32 {
	if d == Hidl {
		return HidlList
	}
	return AidlList
}

// WriteHeader writes the RPC header (interface token) this dialect
// expects ahead of every outbound request. aidl v1 writes a 32-bit
// strict-mode flags word followed by a utf16 descriptor; hidl writes a
// bare utf8 descriptor.
func WriteHeader(w *codec.Writer, d Dialect, descriptor string) {
	switch d {
	case Hidl:
		w.WriteString8(descriptor, false)
	default:
		w.WriteInt32(0) // strict-mode flags, none set
		w.WriteString16(descriptor, false)
	}
}

// EncodeGetRequest builds the get/check-service request: header plus
// the service name (aidl: utf16; hidl: "interface/instance" as utf8).
func EncodeGetRequest(d Dialect, name string) ([]byte, []uint64) {
	w := codec.NewWriter()
	WriteHeader(w, d, d.Descriptor())
	if d == Hidl {
		w.WriteString8(name, false)
	} else {
		w.WriteString16(name, false)
	}
	return w.Bytes(), w.Offsets()
}

// EncodeAddRequest builds the add-service request: header, name, the
// object descriptor (written by writeObject, typically
// registry.FlattenLocal via a ParcelWriter.WriteObject call), and the
// dialect's trailing flags/priority words.
func EncodeAddRequest(d Dialect, name string, writeObject func(w *codec.Writer)) ([]byte, []uint64) {
	w := codec.NewWriter()
	WriteHeader(w, d, d.Descriptor())
	if d == Hidl {
		w.WriteString8(name, false)
		writeObject(w)
	} else {
		w.WriteString16(name, false)
		writeObject(w)
		w.WriteInt32(0) // dump-allowed flags
		if d == Aidl2 {
			w.WriteInt32(0) // dump priority
		}
	}
	return w.Bytes(), w.Offsets()
}

// EncodeListRequest builds a list request. aidl/aidl2 are paginated by
// a starting index; hidl's list call takes no arguments and returns
// the full vector in one reply.
func EncodeListRequest(d Dialect, index int32) ([]byte, []uint64) {
	w := codec.NewWriter()
	WriteHeader(w, d, d.Descriptor())
	if d == Hidl {
		return w.Bytes(), w.Offsets()
	}
	w.WriteInt32(index)
	if d == Aidl2 {
		w.WriteInt32(0x0f) // "all priorities" mask
	}
	return w.Bytes(), w.Offsets()
}

// DecodeListEntry reads one aidl/aidl2 list reply: a service name, or
// ok=false once the manager signals end-of-list with a null string.
func DecodeListEntry(r *codec.Reader) (name string, ok bool, err error) {
	s, isNull, err := r.ReadString16()
	if err != nil {
		return "", false, err
	}
	if isNull || s == "" {
		return "", false, nil
	}
	return s, true, nil
}

// DecodeListVector reads a hidl list reply: an int32 count followed by
// that many utf8 names.
func DecodeListVector(r *codec.Reader) ([]string, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		s, isNull, err := r.ReadString8()
		if err != nil {
			return nil, err
		}
		if !isNull {
			out = append(out, s)
		}
	}
	return out, nil
}

// EncodeRegisterForNotifications builds the hidl-only watch-arm
// request: fqName, instance, and the caller's callback object
// descriptor.
func EncodeRegisterForNotifications(fqName, instance string, writeObject func(w *codec.Writer)) ([]byte, []uint64) {
	w := codec.NewWriter()
	WriteHeader(w, Hidl, HidlDescriptor)
	w.WriteString8(fqName, false)
	w.WriteString8(instance, false)
	writeObject(w)
	return w.Bytes(), w.Offsets()
}

// NotificationPayload is what a hidl registration-notification
// transaction (HidlNotificationCode) carries.
type NotificationPayload struct {
	FqInterface string
	Instance    string
	Preexisting bool
}

// DecodeNotification parses a hidl registration-notification
// transaction body.
func DecodeNotification(r *codec.Reader) (NotificationPayload, error) {
	iface, _, err := r.ReadString8()
	if err != nil {
		return NotificationPayload{}, err
	}
	instance, _, err := r.ReadString8()
	if err != nil {
		return NotificationPayload{}, err
	}
	pre, err := r.ReadBool()
	if err != nil {
		return NotificationPayload{}, err
	}
	return NotificationPayload{FqInterface: iface, Instance: instance, Preexisting: pre}, nil
}

// NormalizeName applies the dialect's name-normalization rule: hidl
// collapses "interface/instance" down to "interface" for the purpose
// of the watch registry; aidl/aidl2 use names as-is.
func NormalizeName(d Dialect, name string) string {
	if d != Hidl {
		return name
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return name[:i]
		}
	}
	return name
}
