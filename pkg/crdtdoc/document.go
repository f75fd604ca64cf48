// Package crdtdoc implements the shared structured document synced
// between the two paired devices: a small set of named last-writer-wins
// maps, replicated as an append-only per-replica op log so that updates
// are commutative, associative, and idempotent to apply regardless of
// delivery order.
//
// There is no general-purpose CRDT library in the retrieval pack (the
// Matter stack and the other examples all deal in fixed schemas, not
// replicated documents) so this is built directly on the standard
// library's encoding/gob for the wire format — see DESIGN.md for why no
// third-party serializer was adopted instead.
package crdtdoc

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aurus-sync/core/pkg/syncerr"
)

// Well-known map and key names, matching the original voiceStore schema
// this document mirrors (src-tauri/src/sync/document.rs in the retrieved
// source).
const (
	MapSession       = "session"
	MapActionItems   = "action_items"
	MapToneShift     = "tone_shift"
	MapTranslation   = "translation"
	MapDevLog        = "dev_log"
	MapBrainDump     = "brain_dump"
	MapMentalMirror  = "mental_mirror"
	MapMusic         = "music"
	MapPreferences   = "preferences"

	KeyTranscript         = "transcript"
	KeyRecordingState     = "recording_state"
	KeyRecordingDuration  = "recording_duration"
	KeyActiveAgent        = "active_agent"
	KeyResult             = "result"
)

// agentMaps lists the single-slot "result" maps the snapshot flattens.
var agentMaps = []string{
	MapActionItems, MapToneShift, MapTranslation, MapDevLog,
	MapBrainDump, MapMentalMirror, MapMusic,
}

// op is one last-writer-wins write, uniquely ordered within its replica's
// stream by Counter and totally ordered across replicas by (Lamport,
// ReplicaID).
type op struct {
	ReplicaID string
	Counter   uint64
	Lamport   uint64
	Map       string
	Key       string
	Value     string
}

func (a op) wins(b op) bool {
	if a.Lamport != b.Lamport {
		return a.Lamport > b.Lamport
	}
	return a.ReplicaID > b.ReplicaID
}

// Document is the in-memory CRDT container. It is never persisted: a
// fresh Document always starts with all nine maps empty.
type Document struct {
	mu sync.Mutex

	replicaID string
	counter   uint64
	lamport   uint64

	ops   []op
	state map[string]map[string]op
	seen  map[string]uint64 // replica id -> highest counter merged
}

// New creates an empty document with a fresh random replica identity.
func New() *Document {
	return &Document{
		replicaID: uuid.NewString(),
		state:     make(map[string]map[string]op),
		seen:      make(map[string]uint64),
	}
}

// Snapshot is a flat view of the document's top-level values, suitable
// for emitting to the UI as sync-state-updated.
type Snapshot struct {
	Transcript        string
	RecordingState    string
	RecordingDuration string
	ActiveAgent       *string
	ActionItems       *string
	ToneShift         *string
	Translation       *string
	DevLog            *string
	BrainDump         *string
	MentalMirror      *string
	Music             *string
}

func (d *Document) write(mapName, key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.counter++
	d.lamport++
	o := op{
		ReplicaID: d.replicaID,
		Counter:   d.counter,
		Lamport:   d.lamport,
		Map:       mapName,
		Key:       key,
		Value:     value,
	}
	d.mergeLocked(o)
}

// mergeLocked applies op under the document lock, deduplicating by
// per-replica counter and resolving same-key conflicts by Lamport order.
// Returns true if the op advanced any replica's frontier (i.e. it was
// not already known), which is what makes repeated ApplyUpdate calls a
// no-op.
func (d *Document) mergeLocked(o op) bool {
	if o.Counter <= d.seen[o.ReplicaID] {
		return false
	}
	d.seen[o.ReplicaID] = o.Counter
	if o.Lamport > d.lamport {
		d.lamport = o.Lamport
	}

	table, ok := d.state[o.Map]
	if !ok {
		table = make(map[string]op)
		d.state[o.Map] = table
	}
	if current, exists := table[o.Key]; !exists || o.wins(current) {
		table[o.Key] = o
	}
	d.ops = append(d.ops, o)
	return true
}

func (d *Document) readString(mapName, key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	table, ok := d.state[mapName]
	if !ok {
		return "", false
	}
	o, ok := table[key]
	if !ok {
		return "", false
	}
	return o.Value, true
}

// SetTranscript writes the session transcript.
func (d *Document) SetTranscript(text string) { d.write(MapSession, KeyTranscript, text) }

// Transcript returns the current transcript, or "" if unset.
func (d *Document) Transcript() string {
	v, _ := d.readString(MapSession, KeyTranscript)
	return v
}

// SetRecordingState writes the recording state ("idle", "recording", "processing").
func (d *Document) SetRecordingState(state string) { d.write(MapSession, KeyRecordingState, state) }

// SetRecordingDuration writes the recording duration in seconds, encoded
// as a decimal string since the document only stores string values.
func (d *Document) SetRecordingDuration(seconds string) {
	d.write(MapSession, KeyRecordingDuration, seconds)
}

// SetActiveAgent writes the active agent name, or "" for none.
func (d *Document) SetActiveAgent(agent string) { d.write(MapSession, KeyActiveAgent, agent) }

// SetAgentResult stores an agent result as a JSON string in its map.
// mapName must be one of the agent maps (action_items, tone_shift, ...).
func (d *Document) SetAgentResult(mapName, resultJSON string) error {
	if !isAgentMap(mapName) {
		return fmt.Errorf("crdtdoc: %q is not an agent map: %w", mapName, syncerr.ErrDocument)
	}
	d.write(mapName, KeyResult, resultJSON)
	return nil
}

// AgentResult retrieves an agent result JSON string.
func (d *Document) AgentResult(mapName string) (string, bool) {
	return d.readString(mapName, KeyResult)
}

// SetPreference sets a preference key/value pair.
func (d *Document) SetPreference(key, value string) { d.write(MapPreferences, key, value) }

// Preference retrieves a preference value.
func (d *Document) Preference(key string) (string, bool) {
	return d.readString(MapPreferences, key)
}

func isAgentMap(name string) bool {
	for _, m := range agentMaps {
		if m == name {
			return true
		}
	}
	return false
}

// TakeSnapshot exports the whole document as a flat struct for UI emission.
func (d *Document) TakeSnapshot() Snapshot {
	recordingState, ok := d.readString(MapSession, KeyRecordingState)
	if !ok {
		recordingState = "idle"
	}

	snap := Snapshot{
		Transcript:        d.Transcript(),
		RecordingState:    recordingState,
		ActiveAgent:       optString(d.readString(MapSession, KeyActiveAgent)),
		ActionItems:       optString(d.AgentResult(MapActionItems)),
		ToneShift:         optString(d.AgentResult(MapToneShift)),
		Translation:       optString(d.AgentResult(MapTranslation)),
		DevLog:            optString(d.AgentResult(MapDevLog)),
		BrainDump:         optString(d.AgentResult(MapBrainDump)),
		MentalMirror:      optString(d.AgentResult(MapMentalMirror)),
		Music:             optString(d.AgentResult(MapMusic)),
	}
	if v, ok := d.readString(MapSession, KeyRecordingDuration); ok {
		snap.RecordingDuration = v
	}
	return snap
}

func optString(v string, ok bool) *string {
	if !ok {
		return nil
	}
	return &v
}

// EncodeStateAsUpdate produces a binary update that, applied to an empty
// peer, brings it fully up to date.
func (d *Document) EncodeStateAsUpdate() ([]byte, error) {
	return d.EncodeDiff(nil)
}

// EncodeStateVector encodes the current causal summary: the highest
// counter seen from each replica.
func (d *Document) EncodeStateVector() ([]byte, error) {
	d.mu.Lock()
	sv := make(map[string]uint64, len(d.seen))
	for k, v := range d.seen {
		sv[k] = v
	}
	d.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sv); err != nil {
		return nil, fmt.Errorf("crdtdoc: encode state vector failed: %w", syncerr.ErrDocument)
	}
	return buf.Bytes(), nil
}

// EncodeDiff produces the minimal update that, applied to a peer at
// remoteStateVector, converges it with this document's current state.
// A nil or empty remoteStateVector yields the full history.
func (d *Document) EncodeDiff(remoteStateVector []byte) ([]byte, error) {
	var remoteSV map[string]uint64
	if len(remoteStateVector) > 0 {
		if err := gob.NewDecoder(bytes.NewReader(remoteStateVector)).Decode(&remoteSV); err != nil {
			return nil, fmt.Errorf("crdtdoc: invalid state vector: %w", syncerr.ErrDocument)
		}
	}

	d.mu.Lock()
	var missing []op
	for _, o := range d.ops {
		if o.Counter > remoteSV[o.ReplicaID] {
			missing = append(missing, o)
		}
	}
	d.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(missing); err != nil {
		return nil, fmt.Errorf("crdtdoc: encode diff failed: %w", syncerr.ErrDocument)
	}
	return buf.Bytes(), nil
}

// ApplyUpdate merges an update produced by EncodeStateAsUpdate or
// EncodeDiff. Malformed input fails with a wrapped syncerr.ErrDocument
// without mutating state. Applying the same update twice is a no-op:
// every op is deduplicated against the per-replica counter already
// merged.
func (d *Document) ApplyUpdate(update []byte) error {
	var ops []op
	if len(update) > 0 {
		if err := gob.NewDecoder(bytes.NewReader(update)).Decode(&ops); err != nil {
			return fmt.Errorf("crdtdoc: malformed update: %w", syncerr.ErrDocument)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range ops {
		d.mergeLocked(o)
	}
	return nil
}
