package pdf

import (
	"bytes"
	"crypto/md5"
	"crypto/rc4"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"testing"

	"github.com/novvoo/go-pageimages/internal/pdftest"
)

var testDocumentID = []byte("0123456789abcdef")

// rc4Test encrypts or decrypts data with key
func rc4Test(key, data []byte) []byte {
	c, err := rc4.NewCipher(key)
	if err != nil {
		panic(err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out
}

// standardKeys computes O, U and the file key of the standard security
// handler for RC4 revisions 2 and 3
func standardKeys(revision, keyLen int, user, owner string, perms int32) (o, u, fileKey []byte) {
	ownerHash := md5.Sum(padPassword([]byte(owner)))
	if revision >= 3 {
		for i := 0; i < 50; i++ {
			ownerHash = md5.Sum(ownerHash[:])
		}
	}
	ownerKey := ownerHash[:keyLen]
	o = rc4Test(ownerKey, padPassword([]byte(user)))
	if revision >= 3 {
		for i := 1; i <= 19; i++ {
			o = rc4Test(xorKey(ownerKey, byte(i)), o)
		}
	}

	h := md5.New()
	h.Write(padPassword([]byte(user)))
	h.Write(o)
	p := uint32(perms)
	h.Write([]byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)})
	h.Write(testDocumentID)
	fileKey = h.Sum(nil)[:keyLen]
	if revision >= 3 {
		for i := 0; i < 50; i++ {
			sum := md5.Sum(fileKey)
			fileKey = sum[:keyLen]
		}
	}

	if revision == 2 {
		u = rc4Test(fileKey, passwordPadding)
		return o, u, fileKey
	}
	h = md5.New()
	h.Write(passwordPadding)
	h.Write(testDocumentID)
	u = rc4Test(fileKey, h.Sum(nil))
	for i := 1; i <= 19; i++ {
		u = rc4Test(xorKey(fileKey, byte(i)), u)
	}
	u = append(u, make([]byte, 16)...)
	return o, u, fileKey
}

// objectKeyTest derives the RC4 key of one object
func objectKeyTest(fileKey []byte, num int) []byte {
	h := md5.New()
	h.Write(fileKey)
	h.Write([]byte{byte(num), byte(num >> 8), byte(num >> 16), 0, 0})
	return h.Sum(nil)[:min(len(fileKey)+5, 16)]
}

// newEncryptedBuilder starts an RC4 encrypted document. Callers encrypt
// object data with the returned file key; finish adds the Encrypt
// dictionary and the trailer /ID.
func newEncryptedBuilder(revision int, user, owner string) (b *pdftest.Builder, fileKey []byte, finish func() []byte) {
	keyLen, version := 5, 1
	if revision >= 3 {
		keyLen, version = 16, 2
	}
	const perms = int32(-3904)
	o, u, fileKey := standardKeys(revision, keyLen, user, owner, perms)

	b = pdftest.NewBuilder()
	finish = func() []byte {
		enc := b.Add(fmt.Sprintf("<< /Filter /Standard /V %d /R %d /Length %d /O <%s> /U <%s> /P %d >>",
			version, revision, keyLen*8, hexEncode(o), hexEncode(u), perms))
		b.SetTrailer(fmt.Sprintf("/Encrypt %d 0 R /ID [<%s> <%s>] ", enc, hexEncode(testDocumentID), hexEncode(testDocumentID)))
		return b.Bytes()
	}
	return b, fileKey, finish
}

// createEncryptedPDF builds an RC4 encrypted single-page document whose
// page paints one 2x1 grayscale image
func createEncryptedPDF(revision int, user, owner string) []byte {
	b, fileKey, finish := newEncryptedBuilder(revision, user, owner)
	imgNum := b.Next()
	b.AddImage("/Width 2 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8",
		rc4Test(objectKeyTest(fileKey, imgNum), []byte{0x00, 0xFF}))
	contentNum := b.Next()
	b.AddPage(fmt.Sprintf("<< /XObject << /Im0 %d 0 R >> >>", imgNum),
		rc4Test(objectKeyTest(fileKey, contentNum), []byte("/Im0 Do")))
	return finish()
}

// TestEncryptedDocument tests opening RC4 documents with each password
func TestEncryptedDocument(t *testing.T) {
	tests := []struct {
		name     string
		revision int
		user     string
		owner    string
		opts     []OpenOption
		wantErr  error
	}{
		{"R2 empty user password", 2, "", "owner", nil, nil},
		{"R3 empty user password", 3, "", "owner", nil, nil},
		{"R2 user password", 2, "secret", "owner", []OpenOption{WithPassword("secret")}, nil},
		{"R3 owner password", 3, "secret", "owner", []OpenOption{WithPassword("owner")}, nil},
		{"password required", 3, "secret", "owner", nil, ErrPasswordRequired},
		{"wrong password", 2, "secret", "owner", []OpenOption{WithPassword("wrong")}, ErrBadPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := NewDocument(createEncryptedPDF(tt.revision, tt.user, tt.owner), tt.opts...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to open encrypted document: %v", err)
			}
			if !doc.IsEncrypted() {
				t.Error("Expected document to report encryption")
			}

			page, err := doc.Page(0)
			if err != nil {
				t.Fatal(err)
			}
			content, err := page.Contents()
			if err != nil || string(content) != "/Im0 Do" {
				t.Fatalf("Expected decrypted content, got %q (%v)", content, err)
			}

			var images []*Image
			for img, err := range page.ImagesMode(ImageModeRaw) {
				if err != nil {
					t.Fatalf("Images failed: %v", err)
				}
				images = append(images, img)
			}
			if len(images) != 1 || !bytes.Equal(images[0].Data, []byte{0x00, 0xFF}) {
				t.Errorf("Expected one decrypted image, got %+v", images)
			}
		})
	}
}

// TestDecryptStreamErrors tests rejected stream decryption
func TestDecryptStreamErrors(t *testing.T) {
	sh := &SecurityHandler{Type: EncryptionAES_128, encryptionKey: make([]byte, 16)}

	if _, err := sh.DecryptStream([]byte("short"), 1, 0); err == nil {
		t.Error("Expected error for data shorter than two blocks")
	}

	unauthenticated := &SecurityHandler{Type: EncryptionRC4_40}
	if _, err := unauthenticated.DecryptStream([]byte("x"), 1, 0); err == nil {
		t.Error("Expected error before authentication")
	}
}

// TestUnsupportedEncryption tests that unknown handlers are rejected
func TestUnsupportedEncryption(t *testing.T) {
	tests := []struct {
		name string
		dict string
	}{
		{"public key", "<< /Filter /Adobe.PubSec /V 1 /R 2 >>"},
		{"AES-256", "<< /Filter /Standard /V 5 /R 6 /O <00> /U <00> /P -4 >>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := pdftest.NewBuilder()
			b.AddPage("<< >>", nil)
			enc := b.Add(tt.dict)
			b.SetTrailer(fmt.Sprintf("/Encrypt %d 0 R ", enc))

			if _, err := NewDocument(b.Bytes()); !errors.Is(err, ErrUnsupportedEncryption) {
				t.Errorf("Expected ErrUnsupportedEncryption, got %v", err)
			}
		})
	}
}

// TestEncryptedStringPalette tests that strings inside encrypted objects,
// such as an indexed palette, are decrypted with the object key
func TestEncryptedStringPalette(t *testing.T) {
	b, fileKey, finish := newEncryptedBuilder(3, "", "owner")
	imgNum := b.Next()
	key := objectKeyTest(fileKey, imgNum)
	palette := rc4Test(key, []byte{0xFF, 0x00, 0x00, 0x00, 0x00, 0xFF})
	b.AddImage(fmt.Sprintf("/Width 2 /Height 1 /ColorSpace [/Indexed /DeviceRGB 1 <%s>] /BitsPerComponent 8", hexEncode(palette)),
		rc4Test(key, []byte{0, 1}))
	contentNum := b.Next()
	b.AddPage(fmt.Sprintf("<< /XObject << /Im0 %d 0 R >> >>", imgNum),
		rc4Test(objectKeyTest(fileKey, contentNum), []byte("/Im0 Do")))

	images := collectImages(t, firstPage(t, finish()), ImageModeNative)
	if len(images) != 1 {
		t.Fatalf("Expected 1 image, got %d", len(images))
	}
	decoded, err := png.Decode(bytes.NewReader(images[0].Data))
	if err != nil {
		t.Fatalf("Output is not a PNG: %v", err)
	}
	want := []color.Color{color.NRGBA{R: 0xFF, A: 0xFF}, color.NRGBA{B: 0xFF, A: 0xFF}}
	for x, c := range want {
		if !sameColor(decoded.At(x, 0), c) {
			t.Errorf("Pixel %d: expected %v, got %v", x, c, decoded.At(x, 0))
		}
	}
}

// TestDecryptString tests string decryption with separate V4 crypt filters
func TestDecryptString(t *testing.T) {
	fileKey := []byte("0123456789abcdef")
	sh := &SecurityHandler{Type: EncryptionAES_128, StringType: EncryptionRC4_128, encryptionKey: fileKey}

	plain := []byte("palette")
	got, err := sh.DecryptString(rc4Test(objectKeyTest(fileKey, 7), plain), 7, 0)
	if err != nil {
		t.Fatalf("DecryptString failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("Expected %q, got %q", plain, got)
	}

	sh.StringType = EncryptionNone
	if got, _ := sh.DecryptString(plain, 7, 0); !bytes.Equal(got, plain) {
		t.Errorf("Identity string filter changed the data: %q", got)
	}
}
