package binder

import (
	"github.com/mjkern/gobinder/internal/codec"
	"github.com/mjkern/gobinder/internal/registry"
)

// ParcelWriter builds an outbound parcel: an append-only byte stream
// plus the offset list of any object descriptors written into it.
type ParcelWriter = codec.Writer

// ParcelReader walks an inbound parcel's bytes and offset list.
type ParcelReader = codec.Reader

// NewParcelWriter returns an empty outbound parcel builder.
func NewParcelWriter() *ParcelWriter { return codec.NewWriter() }

// NewParcelReader wraps data/offsets — typically the Buffer/Offsets a
// Transaction handed to an inbound dispatch — for reading.
func NewParcelReader(data []byte, offsets []uint64) *ParcelReader {
	return codec.NewReader(data, offsets)
}

// WriteLocalObject writes a "local binder" descriptor naming obj's
// identity cookie. obj must already be registered on the same Driver
// the parcel will be submitted through.
func WriteLocalObject(w *ParcelWriter, obj *LocalObject) {
	w.WriteObject(registry.FlattenLocal(obj.cookie, obj.acceptsFDs))
}

// WriteRemoteHandle writes a "remote handle" descriptor for a
// RemoteObject known to live on the same Driver as this parcel.
func WriteRemoteHandle(w *ParcelWriter, obj *RemoteObject) error {
	desc, err := registry.FlattenRemote(obj.handle, true)
	if err != nil {
		return WrapError("WriteRemoteHandle", err)
	}
	w.WriteObject(desc)
	return nil
}

// ReadObjectResult is what resolving one descriptor read off a
// ParcelReader produces: exactly one of Local or Remote is set.
type ReadObjectResult struct {
	Local  *LocalObject
	Remote *RemoteObject
}

// ReadObject reads the next object descriptor at the reader's cursor
// and resolves it against d's registry, materializing a RemoteObject
// via d.remoteObject if the handle hasn't been seen before.
func ReadObject(r *ParcelReader, d *Driver) (ReadObjectResult, error) {
	desc, err := r.ReadObject()
	if err != nil {
		return ReadObjectResult{}, WrapError("ReadObject", err)
	}
	result, err := d.registry.Unflatten(desc, func(handle uint32) any {
		return d.remoteObject(handle)
	})
	if err != nil {
		return ReadObjectResult{}, WrapError("ReadObject", err)
	}
	if result.IsRemote {
		return ReadObjectResult{Remote: result.RemoteValue.(*RemoteObject)}, nil
	}
	local, _ := result.LocalHandler.(*LocalObject)
	return ReadObjectResult{Local: local}, nil
}
