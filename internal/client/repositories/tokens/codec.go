package tokens

import (
	"encoding/json"
	"errors"

	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"github.com/dmitrijs2005/donorsync/internal/common"
	"github.com/dmitrijs2005/donorsync/internal/cryptox"
)

const saltSize = 16

var errSealedTooShort = errors.New("sealed token slot too short")

type codec interface {
	encode(pair models.TokenPair) ([]byte, error)
	decode(data []byte) (models.TokenPair, error)
}

type plainCodec struct{}

func (plainCodec) encode(pair models.TokenPair) ([]byte, error) {
	return json.Marshal(pair)
}

func (plainCodec) decode(data []byte) (models.TokenPair, error) {
	var p models.TokenPair
	err := json.Unmarshal(data, &p)
	return p, err
}

// sealedCodec stores salt||nonce||ciphertext; a fresh salt is drawn per write.
type sealedCodec struct {
	secret []byte
}

func (c sealedCodec) sealer(salt []byte) (*cryptox.Sealer, error) {
	key := cryptox.DeriveKey(c.secret, salt)
	defer common.WipeByteArray(key)
	return cryptox.NewSealer(key)
}

func (c sealedCodec) encode(pair models.TokenPair) ([]byte, error) {
	salt := common.GenerateRandByteArray(saltSize)
	s, err := c.sealer(salt)
	if err != nil {
		return nil, err
	}
	sealed, err := s.Seal(pair)
	if err != nil {
		return nil, err
	}
	return append(salt, sealed...), nil
}

func (c sealedCodec) decode(data []byte) (models.TokenPair, error) {
	var p models.TokenPair
	if len(data) < saltSize {
		return p, errSealedTooShort
	}
	s, err := c.sealer(data[:saltSize])
	if err != nil {
		return p, err
	}
	err = s.Open(data[saltSize:], &p)
	return p, err
}
