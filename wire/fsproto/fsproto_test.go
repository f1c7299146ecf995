package fsproto

import (
	"bytes"
	"testing"

	"github.com/diskfs/vdiskfs/xerrors"
)

func TestStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteString(&buf, "hello world"); err != nil {
		t.Fatalf("WriteString() error = %v", err)
	}
	got, err := ReadString(&buf)
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	if got != "hello world" {
		t.Fatalf("ReadString() = %q, want %q", got, "hello world")
	}
}

func TestInstrAndReplyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteInstr(&buf, InstrMkdir); err != nil {
		t.Fatalf("WriteInstr() error = %v", err)
	}
	instr, err := ReadInstr(&buf)
	if err != nil {
		t.Fatalf("ReadInstr() error = %v", err)
	}
	if instr != InstrMkdir {
		t.Fatalf("ReadInstr() = %v, want %v", instr, InstrMkdir)
	}

	if err := WriteReply(&buf, ReplyBusyHandle); err != nil {
		t.Fatalf("WriteReply() error = %v", err)
	}
	reply, err := ReadReply(&buf)
	if err != nil {
		t.Fatalf("ReadReply() error = %v", err)
	}
	if reply != ReplyBusyHandle {
		t.Fatalf("ReadReply() = %v, want %v", reply, ReplyBusyHandle)
	}
}

func TestReplyForKind(t *testing.T) {
	cases := map[xerrors.Kind]Reply{
		xerrors.KindNameNotExist:     ReplyNotExist,
		xerrors.KindNameAlreadyExist: ReplyAlreadyExist,
		xerrors.KindBusyHandle:       ReplyBusyHandle,
		xerrors.KindNotEmpty:         ReplyNotEmpty,
		xerrors.KindUnknown:         ReplyUnknown,
	}
	for kind, want := range cases {
		if got := ReplyForKind(kind); got != want {
			t.Errorf("ReplyForKind(%v) = %v, want %v", kind, got, want)
		}
	}
}
