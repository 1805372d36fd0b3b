package pdf

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"errors"
	"fmt"
)

// EncryptionType represents the PDF encryption algorithm
type EncryptionType int

const (
	EncryptionNone EncryptionType = iota
	EncryptionRC4_40
	EncryptionRC4_128
	EncryptionAES_128
)

// SecurityHandler implements the standard security handler, revisions 2 to 4
type SecurityHandler struct {
	// Type applies to streams, StringType to strings; they differ only
	// when a V4 handler names different crypt filters
	Type        EncryptionType
	StringType  EncryptionType
	Version     int // V value
	Revision    int // R value
	KeyLength   int // in bits
	Permissions int32
	OwnerKey    []byte // O value
	UserKey     []byte // U value
	EncryptMeta bool
	// DocumentID is the first element of the trailer /ID array
	DocumentID []byte

	encryptionKey []byte
}

// PDF password padding
var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

// ParseEncryption reads the document's Encrypt dictionary
func ParseEncryption(doc *Document) (*SecurityHandler, error) {
	encryptDict, ok := doc.resolveDict(doc.Trailer.Get("Encrypt"))
	if !ok {
		return nil, errors.New("invalid Encrypt dictionary")
	}

	filter, _ := encryptDict.GetName("Filter")
	if filter != "Standard" {
		return nil, fmt.Errorf("%w: filter %s", ErrUnsupportedEncryption, filter)
	}

	sh := &SecurityHandler{
		KeyLength:   40,
		EncryptMeta: true,
	}
	if v, ok := encryptDict.GetInt("V"); ok {
		sh.Version = int(v)
	}
	if r, ok := encryptDict.GetInt("R"); ok {
		sh.Revision = int(r)
	}
	if length, ok := encryptDict.GetInt("Length"); ok {
		sh.KeyLength = int(length)
	}
	if p, ok := encryptDict.GetInt("P"); ok {
		sh.Permissions = int32(p)
	}
	if o, ok := encryptDict.Get("O").(String); ok {
		sh.OwnerKey = o.Value
	}
	if u, ok := encryptDict.Get("U").(String); ok {
		sh.UserKey = u.Value
	}
	if em, ok := encryptDict.GetBool("EncryptMetadata"); ok {
		sh.EncryptMeta = em
	}
	if ids, ok := doc.Trailer.GetArray("ID"); ok && len(ids) > 0 {
		if id, ok := ids[0].(String); ok {
			sh.DocumentID = id.Value
		}
	}

	switch sh.Version {
	case 1:
		sh.Type = EncryptionRC4_40
		sh.KeyLength = 40
		sh.StringType = sh.Type
	case 2, 3:
		sh.Type = EncryptionRC4_128
		if sh.KeyLength <= 40 {
			sh.Type = EncryptionRC4_40
		}
		sh.StringType = sh.Type
	case 4:
		if err := sh.parseCryptFilter(encryptDict); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: V %d", ErrUnsupportedEncryption, sh.Version)
	}
	if sh.Revision < 2 || sh.Revision > 4 {
		return nil, fmt.Errorf("%w: R %d", ErrUnsupportedEncryption, sh.Revision)
	}
	if sh.KeyLength < 40 || sh.KeyLength > 128 || sh.KeyLength%8 != 0 {
		return nil, fmt.Errorf("%w: key length %d", ErrUnsupportedEncryption, sh.KeyLength)
	}

	return sh, nil
}

// parseCryptFilter reads the stream and string crypt filters of a V4
// handler
func (sh *SecurityHandler) parseCryptFilter(encryptDict Dictionary) error {
	sh.KeyLength = 128
	var err error
	if sh.Type, err = sh.cryptFilterType(encryptDict, "StmF"); err != nil {
		return err
	}
	sh.StringType, err = sh.cryptFilterType(encryptDict, "StrF")
	return err
}

// cryptFilterType resolves the crypt filter named by key (StmF or StrF)
func (sh *SecurityHandler) cryptFilterType(encryptDict Dictionary, key string) (EncryptionType, error) {
	name, ok := encryptDict.GetName(key)
	if !ok || name == "Identity" {
		return EncryptionNone, nil
	}

	filters, _ := encryptDict.GetDict("CF")
	cf, _ := filters.GetDict(string(name))
	var typ EncryptionType
	cfm, _ := cf.GetName("CFM")
	switch cfm {
	case "V2":
		typ = EncryptionRC4_128
	case "AESV2":
		typ = EncryptionAES_128
	case "None":
		return EncryptionNone, nil
	default:
		return 0, fmt.Errorf("%w: crypt filter method %s", ErrUnsupportedEncryption, cfm)
	}
	if length, ok := cf.GetInt("Length"); ok {
		// Some writers give bytes, others bits.
		if length <= 16 {
			length *= 8
		}
		sh.KeyLength = int(length)
	}
	return typ, nil
}

// Authenticate tries password as the user password, then as the owner password
func (sh *SecurityHandler) Authenticate(password string) bool {
	if sh.authenticateUser([]byte(password)) {
		return true
	}
	return sh.authenticateOwner(password)
}

// authenticateUser checks the user password
func (sh *SecurityHandler) authenticateUser(password []byte) bool {
	key := sh.computeEncryptionKey(password)
	computed := sh.computeUserKey(key)

	n := 32
	if sh.Revision >= 3 {
		n = 16
	}
	if len(sh.UserKey) < n || !bytes.Equal(computed[:n], sh.UserKey[:n]) {
		return false
	}
	sh.encryptionKey = key
	return true
}

// authenticateOwner recovers the user password from O and checks it
func (sh *SecurityHandler) authenticateOwner(password string) bool {
	hash := md5.Sum(padPassword([]byte(password)))
	if sh.Revision >= 3 {
		for i := 0; i < 50; i++ {
			hash = md5.Sum(hash[:])
		}
	}
	key := hash[:sh.keyBytes()]

	userPwd := make([]byte, len(sh.OwnerKey))
	copy(userPwd, sh.OwnerKey)
	if sh.Revision >= 3 {
		for i := 19; i >= 0; i-- {
			rc4XOR(xorKey(key, byte(i)), userPwd)
		}
	} else {
		rc4XOR(key, userPwd)
	}

	return sh.authenticateUser(userPwd)
}

func (sh *SecurityHandler) keyBytes() int {
	if sh.Revision == 2 {
		return 5
	}
	return sh.KeyLength / 8
}

// computeEncryptionKey derives the file key from a password
func (sh *SecurityHandler) computeEncryptionKey(password []byte) []byte {
	h := md5.New()
	h.Write(padPassword(password))
	h.Write(sh.OwnerKey)
	p := uint32(sh.Permissions)
	h.Write([]byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)})
	h.Write(sh.DocumentID)
	if sh.Revision >= 4 && !sh.EncryptMeta {
		h.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}
	hash := h.Sum(nil)

	n := sh.keyBytes()
	if sh.Revision >= 3 {
		for i := 0; i < 50; i++ {
			sum := md5.Sum(hash[:n])
			hash = sum[:]
		}
	}
	return hash[:n]
}

// computeUserKey computes the expected U value for a file key
func (sh *SecurityHandler) computeUserKey(key []byte) []byte {
	result := make([]byte, 32)
	if sh.Revision >= 3 {
		h := md5.New()
		h.Write(passwordPadding)
		h.Write(sh.DocumentID)
		copy(result, h.Sum(nil))
		rc4XOR(key, result[:16])
		for i := 1; i <= 19; i++ {
			rc4XOR(xorKey(key, byte(i)), result[:16])
		}
		return result
	}

	copy(result, passwordPadding)
	rc4XOR(key, result)
	return result
}

// DecryptStream decrypts stream data of object objNum, generation genNum
func (sh *SecurityHandler) DecryptStream(data []byte, objNum, genNum int) ([]byte, error) {
	return sh.decrypt(sh.Type, data, objNum, genNum)
}

// DecryptString decrypts a string stored in object objNum, generation genNum
func (sh *SecurityHandler) DecryptString(data []byte, objNum, genNum int) ([]byte, error) {
	return sh.decrypt(sh.StringType, data, objNum, genNum)
}

func (sh *SecurityHandler) decrypt(typ EncryptionType, data []byte, objNum, genNum int) ([]byte, error) {
	if sh.encryptionKey == nil {
		return nil, errors.New("security handler not authenticated")
	}

	switch typ {
	case EncryptionNone:
		return data, nil
	case EncryptionRC4_40, EncryptionRC4_128:
		out := make([]byte, len(data))
		copy(out, data)
		rc4XOR(sh.computeObjectKey(objNum, genNum, false), out)
		return out, nil
	case EncryptionAES_128:
		return decryptAES(data, sh.computeObjectKey(objNum, genNum, true))
	}
	return nil, fmt.Errorf("%w: type %d", ErrUnsupportedEncryption, typ)
}

// computeObjectKey computes the key for a specific object
func (sh *SecurityHandler) computeObjectKey(objNum, genNum int, useAES bool) []byte {
	h := md5.New()
	h.Write(sh.encryptionKey)
	h.Write([]byte{byte(objNum), byte(objNum >> 8), byte(objNum >> 16)})
	h.Write([]byte{byte(genNum), byte(genNum >> 8)})
	if useAES {
		h.Write([]byte("sAlT"))
	}
	hash := h.Sum(nil)

	return hash[:min(len(sh.encryptionKey)+5, 16)]
}

// decryptAES decrypts AES-CBC data whose first block is the IV
func decryptAES(data, key []byte) ([]byte, error) {
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, errors.New("AES data is not a whole number of blocks")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(data)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, data[:aes.BlockSize]).CryptBlocks(plaintext, data[aes.BlockSize:])

	padLen := int(plaintext[len(plaintext)-1])
	if padLen > 0 && padLen <= aes.BlockSize {
		plaintext = plaintext[:len(plaintext)-padLen]
	}
	return plaintext, nil
}

func rc4XOR(key, data []byte) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return
	}
	c.XORKeyStream(data, data)
}

func xorKey(key []byte, v byte) []byte {
	out := make([]byte, len(key))
	for i := range key {
		out[i] = key[i] ^ v
	}
	return out
}

// padPassword pads or truncates a password to 32 bytes
func padPassword(password []byte) []byte {
	pwd := password
	if len(pwd) > 32 {
		pwd = pwd[:32]
	}
	result := make([]byte, 32)
	copy(result, pwd)
	copy(result[len(pwd):], passwordPadding)
	return result
}
