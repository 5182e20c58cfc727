// Package classifier derives the semantic action of a bridge message from the
// payload a chain handler recovered. It performs no I/O.
package classifier

import (
	"fmt"
	"math/big"

	"bridgescan/enricher/internal/amount"
	"bridgescan/enricher/internal/decoder"
	"bridgescan/enricher/internal/models"
	"bridgescan/enricher/internal/registry"
)

// Option configures a Classify call
type Option func(*options)

type options struct {
	decodeAddress func(string) string
}

// WithAddressDecoder converts payload addresses to the source chain's native
// form before they are compared against its asset manager
func WithAddressDecoder(fn func(string) string) Option {
	return func(o *options) { o.decodeAddress = fn }
}

// Classify returns the action for payload p of a message sent from src to dst.
// Handler-level intent and migration signals win over the decoded payload, and
// a decoded call aimed at the source chain's asset manager is a deposit.
func Classify(p *models.TxPayload, src, dst string, reg *registry.Registry, opts ...Option) models.Classification {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	out := models.Classification{IntentTxHash: p.IntentTxHash}

	switch {
	case p.IntentFilled:
		out.Action = models.ActionIntentFilled
		out.ActionText = p.ActionText
		out.TokenAddress = p.SwapInputToken
		return out
	case p.IntentCancelled:
		out.Action = models.ActionCancelIntent
		out.ActionText = p.ActionText
		out.TokenAddress = p.SwapInputToken
		return out
	case p.ReverseSwap:
		out.Action = models.ActionMigration
		out.ActionText = p.ActionText
		out.TokenAddress = p.SwapInputToken
		return out
	}

	decoded := decoder.DecodePayload(p.Payload)
	out.Action = decoded.Action
	out.TokenAddress = decoded.Token
	out.Amount = decoded.Amount

	srcChain, _ := reg.Chain(src)
	if srcChain != nil && isDeposit(decoded, p, managerMatcher(srcChain, o.decodeAddress)) {
		out.Action = models.ActionDeposit
		out.ActionText, out.Denom = describe(models.ActionDeposit, decoded.Token, decoded.Amount, reg.DepositAssets(src, dst))
		return out
	}

	switch decoded.Action {
	case models.ActionSendMsg, models.ActionUnknown:
	case models.ActionCreateIntent, models.ActionCancelIntent:
		if decoded.Call != nil && decoded.Call.Intent != nil {
			out.ActionText = describeIntent(decoded.Action, decoded.Call.Intent, reg)
		}
	default:
		out.ActionText, out.Denom = describe(decoded.Action, decoded.Token, decoded.Amount, srcChain)
	}
	return out
}

// isDeposit reports whether a transfer, plain message or intent creation is
// addressed to the source chain's asset manager
func isDeposit(d decoder.DecodedPayload, p *models.TxPayload, isManager func(string) bool) bool {
	switch d.Action {
	case models.ActionTransfer, models.ActionSendMsg:
		if isManager(p.DstAddress) {
			return true
		}
		if d.Call != nil && isManager(d.Call.To) {
			return true
		}
	case models.ActionCreateIntent:
	default:
		return false
	}
	return isManager(d.Target)
}

// managerMatcher matches an address against chain's asset manager as given,
// then in its decoded native form
func managerMatcher(chain *registry.Chain, decode func(string) string) func(string) bool {
	return func(addr string) bool {
		if chain.IsAssetManager(addr) {
			return true
		}
		return decode != nil && addr != "" && chain.IsAssetManager(decode(addr))
	}
}

// describe renders "<Kind> <amount> <token>" with the token resolved in
// chain's asset table. Unknown tokens keep the raw amount and the address.
func describe(kind models.ActionKind, token string, raw *big.Int, chain *registry.Chain) (text, denom string) {
	if token == "" && raw == nil {
		return string(kind), ""
	}
	if chain != nil {
		if asset, ok := chain.Asset(token); ok {
			return fmt.Sprintf("%s %s %s", kind, amount.Format(raw, asset.Decimals), asset.Name), asset.Name
		}
	}
	rawText := "0"
	if raw != nil {
		rawText = raw.String()
	}
	return fmt.Sprintf("%s %s %s", kind, rawText, token), ""
}

// describeIntent renders "<Kind> <in> IN -> <minOut> OUT" resolving each token
// on the chain named by the intent's numeric chain ids
func describeIntent(kind models.ActionKind, intent *decoder.Intent, reg *registry.Registry) string {
	inName, inDecimals := tokenOn(reg, intent.SrcChain, intent.InputToken.Hex())
	outName, outDecimals := tokenOn(reg, intent.DstChain, intent.OutputToken.Hex())
	return fmt.Sprintf("%s %s %s -> %s %s", kind,
		amount.Format(intent.InputAmount, inDecimals), inName,
		amount.Format(intent.MinOutputAmount, outDecimals), outName)
}

func tokenOn(reg *registry.Registry, chainID *big.Int, token string) (string, int32) {
	if chainID != nil {
		if chain, ok := reg.Chain(chainID.String()); ok {
			if asset, ok := chain.Asset(token); ok {
				return asset.Name, asset.Decimals
			}
		}
	}
	return token, amount.DefaultDecimals
}
