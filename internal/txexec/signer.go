package txexec

import (
	"crypto/ecdsa"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentCommerce-Chain/internal/errors"
)

// Signer 持有代理的签名私钥。私钥在进程内是只读共享资源，
// 签名本身无状态，可以并发调用。
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner 从十六进制私钥构造 Signer。
func NewSigner(hexKey string) (*Signer, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "签名私钥不能为空")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析签名私钥失败")
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address 返回签名者地址。
func (s *Signer) Address() common.Address {
	return s.address
}

// Key 返回底层私钥，仅供直连链后端构造原生交易使用。
func (s *Signer) Key() *ecdsa.PrivateKey {
	return s.key
}

// SignPersonal 对消息做 EIP-191 personal 签名，返回 0x 前缀的 65 字节签名。
// 中继后端用它校验 trxData 确实出自持钥代理。
func (s *Signer) SignPersonal(message []byte) (string, error) {
	digest := accounts.TextHash(message)
	signature, err := crypto.Sign(digest, s.key)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "签名失败")
	}
	// go-ethereum 输出 v=0/1，链下校验方期望 27/28。
	signature[crypto.RecoveryIDOffset] += 27
	return "0x" + hex.EncodeToString(signature), nil
}
