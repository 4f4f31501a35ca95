package changetransfer

import (
	"io"
	"os"
)

// HandleRequest answers an incoming Request from a peer: the full
// object if present, or an error response naming no_key/no_version.
func (t *Transfer) HandleRequest(from string, req Request) {
	if !t.store.Exists(req.Key) {
		t.send(from, Response{
			Type: TypeResponse, Key: req.Key, Version: req.Version, OldVersion: req.OldVersion,
			Start: req.Start, ErrorCode: ErrNoKey,
		})
		return
	}
	if !t.store.ExistsVersion(req.Key, req.Version) {
		t.send(from, Response{
			Type: TypeResponse, Key: req.Key, Version: req.Version, OldVersion: req.OldVersion,
			Start: req.Start, ErrorCode: ErrNoVersion,
		})
		return
	}

	f, err := os.Open(t.store.Path(req.Key, req.Version))
	if err != nil {
		t.logger.Warn().Err(err).Str("key", req.Key).Msg("failed to open blob for requested transfer")
		t.send(from, Response{
			Type: TypeResponse, Key: req.Key, Version: req.Version, OldVersion: req.OldVersion,
			Start: req.Start, ErrorCode: ErrNoVersion,
		})
		return
	}
	defer f.Close()

	if req.Start > 0 {
		if _, err := f.Seek(int64(req.Start), io.SeekStart); err != nil {
			t.logger.Warn().Err(err).Str("key", req.Key).Msg("failed to seek to resume offset")
			return
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		t.logger.Warn().Err(err).Str("key", req.Key).Msg("failed to read blob for requested transfer")
		return
	}

	t.send(from, Response{
		Type: TypeResponse, Key: req.Key, Version: req.Version, OldVersion: req.OldVersion,
		Start: req.Start, Data: encodeData(data), ErrorCode: ErrOK,
	})
}

// HandleResponse processes a reply to a request this node issued. On
// success the chunk is persisted via the change store and every
// registered arrival callback fires; on failure it is logged and
// dropped (no retry policy is driven here, and the reconciler's tick
// does not re-request blobs either: the pending entry stays pending).
func (t *Transfer) HandleResponse(from string, resp Response) {
	if resp.ErrorCode != ErrOK {
		t.logger.Info().Str("from", from).Str("key", resp.Key).Str("error_code", string(resp.ErrorCode)).
			Msg("change-transfer request failed")
		return
	}

	data, err := decodeData(resp.Data)
	if err != nil {
		t.logger.Warn().Err(err).Str("key", resp.Key).Msg("failed to decode change-transfer response")
		return
	}

	var path string
	if resp.Start == 0 {
		path, err = t.store.Add(resp.Key, resp.Version)
		if err != nil {
			t.logger.Warn().Err(err).Str("key", resp.Key).Msg("failed to reserve blob for received transfer")
			return
		}
	} else {
		path = t.store.Path(resp.Key, resp.Version)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		t.logger.Warn().Err(err).Str("key", resp.Key).Msg("failed to open blob for writing")
		return
	}
	defer f.Close()

	if resp.Start > 0 {
		if _, err := f.Seek(int64(resp.Start), io.SeekStart); err != nil {
			t.logger.Warn().Err(err).Str("key", resp.Key).Msg("failed to seek to resume offset")
			return
		}
	}
	if _, err := f.Write(data); err != nil {
		t.logger.Warn().Err(err).Str("key", resp.Key).Msg("failed to write received blob")
		return
	}

	for _, fn := range t.onArrival {
		fn(resp.Key, resp.Version)
	}
}
