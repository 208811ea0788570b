package sptps

import "testing"

func FuzzDecodeStreamRecord(f *testing.F) {
	f.Add(encodeStreamRecord(nil, 0, 1, []byte("seed")))
	f.Add([]byte("not a frame"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, frame []byte) {
		if len(frame) < 2 {
			return
		}
		declaredLen := int(frame[0]) | int(frame[1])<<8
		_, _, _ = decodeStreamRecord(nil, 0, frame, declaredLen)
	})
}

func FuzzDecodeDatagramRecord(f *testing.F) {
	key := testKey(0x77)
	cipher, _ := initCipher(SuiteChaCha20Poly1305, key, false)
	f.Add(encodeDatagramRecord(cipher, 1, 1, []byte("seed")))
	f.Add([]byte("short"))

	f.Fuzz(func(t *testing.T, frame []byte) {
		_, _, _, _ = decodeDatagramRecord(cipher, frame)
	})
}

func FuzzReplayWindowCheck(f *testing.F) {
	f.Add(uint32(0))
	f.Add(uint32(1000))
	f.Add(uint32(0xFFFFFFFF))

	f.Fuzz(func(t *testing.T, seqno uint32) {
		w := newReplayWindow(16)
		w.inseqno = 500
		// Must never panic regardless of how far seqno is from inseqno.
		_ = w.check(seqno, true, nil)
	})
}

func FuzzAEADRoundtrip(f *testing.F) {
	key := testKey(0x88)
	f.Add([]byte(""))
	f.Add([]byte("hello"))

	f.Fuzz(func(t *testing.T, plaintext []byte) {
		if len(plaintext) > 4096 {
			plaintext = plaintext[:4096]
		}
		enc, _ := initCipher(SuiteChaCha20Poly1305, key, false)
		dec, _ := initCipher(SuiteChaCha20Poly1305, key, false)

		buf := append([]byte{1}, plaintext...) // leading record-type byte
		sealed := enc.encrypt(9, buf)

		opened, err := dec.decrypt(9, sealed)
		if err != nil {
			t.Fatalf("decrypt failed on a freshly sealed message: %v", err)
		}
		if string(opened) != string(buf) {
			t.Fatalf("roundtrip mismatch")
		}
	})
}
