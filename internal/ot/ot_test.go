package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ops     []Operation
		want    string
		wantErr bool
	}{
		{
			name:    "retain all",
			content: "hello",
			ops:     []Operation{RetainOp(5)},
			want:    "hello",
		},
		{
			name:    "insert into middle",
			content: "held",
			ops:     []Operation{RetainOp(3), InsertOp("lo worl", 1), RetainOp(1)},
			want:    "hello world",
		},
		{
			name:    "delete range",
			content: "hello world",
			ops:     []Operation{RetainOp(5), DeleteOp(6)},
			want:    "hello",
		},
		{
			name:    "insert into empty content",
			content: "",
			ops:     []Operation{InsertOp("abc", 1)},
			want:    "abc",
		},
		{
			name:    "multibyte characters count as one",
			content: "héllo",
			ops:     []Operation{RetainOp(2), DeleteOp(3), InsertOp("y", 1)},
			want:    "héy",
		},
		{
			name:    "retain past end",
			content: "hi",
			ops:     []Operation{RetainOp(3)},
			wantErr: true,
		},
		{
			name:    "delete past end",
			content: "hi",
			ops:     []Operation{DeleteOp(3)},
			wantErr: true,
		},
		{
			name:    "ops do not cover content",
			content: "hello",
			ops:     []Operation{RetainOp(2)},
			wantErr: true,
		},
		{
			name:    "empty variant is rejected",
			content: "hi",
			ops:     []Operation{{}, RetainOp(2)},
			wantErr: true,
		},
		{
			name:    "negative retain is rejected",
			content: "hi",
			ops:     []Operation{RetainOp(-1), RetainOp(3)},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.content, tt.ops)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Applying the same valid sequence twice must give identical results, and the
// output length must equal the retained plus inserted character count.
func TestApplyDeterministicAndLengthConsistent(t *testing.T) {
	content := "the quick brown fox"
	ops := []Operation{RetainOp(4), DeleteOp(6), InsertOp("slow ", 7), RetainOp(9)}

	first, err := Apply(content, ops)
	require.NoError(t, err)
	second, err := Apply(content, ops)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	wantLen := 0
	for _, op := range ops {
		if op.Retain != nil {
			wantLen += *op.Retain
		}
		wantLen += op.insertLen()
	}
	assert.Len(t, []rune(first), wantLen)
}

func TestTransformInsertTieBreak(t *testing.T) {
	// Two simultaneous inserts at the same point: the lower author id wins
	// the spot, the higher author's insert lands after it.
	pending := []Operation{InsertOp("a", 2)}
	incoming := []Operation{InsertOp("b", 1)}

	rebased := Transform(pending, incoming)
	require.Len(t, rebased, 2)
	require.NotNil(t, rebased[0].Retain)
	assert.Equal(t, 1, *rebased[0].Retain)
	require.NotNil(t, rebased[1].Insert)
	assert.Equal(t, "a", *rebased[1].Insert)

	afterIncoming, err := Apply("", incoming)
	require.NoError(t, err)
	final, err := Apply(afterIncoming, rebased)
	require.NoError(t, err)
	assert.Equal(t, "ba", final)
}

func TestTransformInsertTieBreakReversed(t *testing.T) {
	pending := []Operation{InsertOp("a", 1)}
	incoming := []Operation{InsertOp("b", 2)}

	rebased := Transform(pending, incoming)

	afterIncoming, err := Apply("", incoming)
	require.NoError(t, err)
	final, err := Apply(afterIncoming, rebased)
	require.NoError(t, err)
	assert.Equal(t, "ab", final)
}

func TestTransformLoneInsertSurvivesDelete(t *testing.T) {
	// Pending inserts in the middle of a range the other side deleted.
	pending := []Operation{RetainOp(2), InsertOp("XY", 3), RetainOp(2)}
	incoming := []Operation{DeleteOp(4)}

	rebased := Transform(pending, incoming)
	afterIncoming, err := Apply("abcd", incoming)
	require.NoError(t, err)
	final, err := Apply(afterIncoming, rebased)
	require.NoError(t, err)
	assert.Equal(t, "XY", final)
}

func TestTransformPendingSurvivesIncomingInsert(t *testing.T) {
	// Incoming inserted text must be retained, not swallowed, by the
	// rebased pending delete.
	pending := []Operation{DeleteOp(3)}
	incoming := []Operation{InsertOp("zz", 1), RetainOp(3)}

	rebased := Transform(pending, incoming)
	afterIncoming, err := Apply("abc", incoming)
	require.NoError(t, err)
	final, err := Apply(afterIncoming, rebased)
	require.NoError(t, err)
	assert.Equal(t, "zz", final)
}

func TestTransformOverlappingDeletes(t *testing.T) {
	// Both sides delete the same prefix; the rebased side must not delete
	// it twice.
	pending := []Operation{DeleteOp(2), RetainOp(2)}
	incoming := []Operation{DeleteOp(3), RetainOp(1)}

	rebased := Transform(pending, incoming)
	afterIncoming, err := Apply("abcd", incoming)
	require.NoError(t, err)
	final, err := Apply(afterIncoming, rebased)
	require.NoError(t, err)
	assert.Equal(t, "d", final)
}

func TestTransformRetainRetain(t *testing.T) {
	pending := []Operation{RetainOp(3), InsertOp("!", 5), RetainOp(1)}
	incoming := []Operation{RetainOp(4)}

	rebased := Transform(pending, incoming)
	final, err := Apply("abcd", rebased)
	require.NoError(t, err)
	assert.Equal(t, "abc!d", final)
}

func TestCoalesce(t *testing.T) {
	ops := []Operation{
		RetainOp(1), RetainOp(2),
		InsertOp("a", 1), InsertOp("b", 1),
		DeleteOp(0), DeleteOp(2), DeleteOp(1),
		InsertOp("", 1),
		RetainOp(0),
	}
	got := Coalesce(ops)
	require.Len(t, got, 3)
	assert.Equal(t, 3, *got[0].Retain)
	assert.Equal(t, "ab", *got[1].Insert)
	assert.Equal(t, 3, *got[2].Delete)
}

func TestCoalesceIdempotent(t *testing.T) {
	ops := []Operation{
		RetainOp(2), RetainOp(0), InsertOp("x", 4), InsertOp("y", 4),
		DeleteOp(1), DeleteOp(1), RetainOp(3),
	}
	once := Coalesce(ops)
	twice := Coalesce(once)
	assert.Equal(t, once, twice)
}

func TestTransformEmptySides(t *testing.T) {
	assert.Empty(t, Transform(nil, nil))

	pending := []Operation{RetainOp(1), InsertOp("a", 1)}
	assert.Equal(t, Coalesce(pending), Transform(pending, nil))
}
