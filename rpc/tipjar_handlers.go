package rpc

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"tipjar/core/identity"
	"tipjar/core/types"
	"tipjar/native/tipjar"
	"tipjar/storage/auditlog"
)

func (s *Server) handleSendInstruction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	ins, err := decodeInstruction(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	ctx := r.Context()
	receipt, applyErr := s.ledger.Apply(ctx, ins)
	s.recordAudit(r, ins, receipt, applyErr)
	if applyErr != nil {
		s.writeLedgerError(w, req.ID, applyErr)
		return
	}
	writeResult(w, req.ID, SendInstructionResult{RequestID: requestID(ctx), Receipt: receipt})
}

func (s *Server) recordAudit(r *http.Request, ins *types.Instruction, receipt *tipjar.Receipt, applyErr error) {
	if s.audit == nil {
		return
	}
	entry := auditlog.Entry{
		RequestID: requestID(r.Context()),
		Kind:      kindName(ins.Kind),
		Amount:    ins.Amount,
	}
	if signer, err := ins.From(); err == nil {
		entry.Signer = formatAddress(signer)
	}
	if ins.Profile != nil {
		entry.Profile = ins.Profile.String()
	}
	if receipt != nil {
		entry.Profile = receipt.Profile.String()
		if receipt.Record != nil {
			entry.Record = receipt.Record.String()
		}
	}
	if applyErr != nil {
		entry.Outcome = "error"
		if code, ok := tipjar.CodeOf(applyErr); ok {
			entry.Outcome = code.String()
			entry.Code = int(code)
		}
		entry.Detail = applyErr.Error()
	}
	if _, err := s.audit.Append(r.Context(), entry); err != nil {
		s.logger.Warn("audit append failed", slog.String("request_id", entry.RequestID), slog.Any("error", err))
	}
}

func kindName(kind types.InstructionKind) string {
	if !kind.Valid() {
		return "unknown"
	}
	return kind.String()
}

func (s *Server) handleGetProfile(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var query ProfileQuery
	if err := decodeParam(req, &query, false); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	hasID := strings.TrimSpace(query.ID) != ""
	hasOwner := strings.TrimSpace(query.Owner) != ""
	if hasID == hasOwner {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one of id or owner is required", nil)
		return
	}
	if hasOwner {
		owner, err := parseOptionalAddress("owner", query.Owner)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		id, profile, err := s.ledger.ProfileByOwner(*owner)
		if err != nil {
			s.writeLedgerError(w, req.ID, err)
			return
		}
		writeResult(w, req.ID, ProfileResult{ID: id, Profile: profile})
		return
	}
	id, err := parseOptionalIdentity("id", query.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	profile, err := s.ledger.Profile(*id)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ProfileResult{ID: *id, Profile: profile})
}

func (s *Server) recordID(w http.ResponseWriter, req *RPCRequest) (identity.Identity, bool) {
	var query RecordQuery
	if err := decodeParam(req, &query, false); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return identity.Identity{}, false
	}
	id, err := parseOptionalIdentity("id", query.ID)
	if err == nil && id == nil {
		err = fmt.Errorf("id required")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return identity.Identity{}, false
	}
	return *id, true
}

func (s *Server) handleGetTip(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	id, ok := s.recordID(w, req)
	if !ok {
		return
	}
	tip, err := s.ledger.TipRecord(id)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, tipjar.TipEntry{ID: id, Tip: tip})
}

func (s *Server) handleGetWithdrawal(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	id, ok := s.recordID(w, req)
	if !ok {
		return
	}
	record, err := s.ledger.WithdrawalRecord(id)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, tipjar.WithdrawalEntry{ID: id, Withdrawal: record})
}

func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var query ListQuery
	if err := decodeParam(req, &query, true); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseOptionalAddress("owner", query.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	entries, err := s.ledger.Profiles(owner)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, entries)
}

func (s *Server) creatorFilter(w http.ResponseWriter, req *RPCRequest) (*identity.Identity, bool) {
	var query ListQuery
	if err := decodeParam(req, &query, true); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return nil, false
	}
	creator, err := parseOptionalIdentity("creator", query.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return nil, false
	}
	return creator, true
}

func (s *Server) handleListTips(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	creator, ok := s.creatorFilter(w, req)
	if !ok {
		return
	}
	entries, err := s.ledger.Tips(creator)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, entries)
}

func (s *Server) handleListWithdrawals(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	creator, ok := s.creatorFilter(w, req)
	if !ok {
		return
	}
	entries, err := s.ledger.Withdrawals(creator)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, entries)
}

func (s *Server) handleGetWallet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var query WalletQuery
	if err := decodeParam(req, &query, false); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := parseOptionalAddress("address", query.Address)
	if err == nil && addr == nil {
		err = fmt.Errorf("address required")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	acc, err := s.ledger.Wallet(*addr)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, WalletResult{Address: formatAddress(*addr), Balance: acc.Balance, Nonce: acc.Nonce})
}

func (s *Server) handleDeriveIdentity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var query DeriveQuery
	if err := decodeParam(req, &query, false); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := deriveIdentity(query)
	if _, ok := tipjar.CodeOf(err); ok {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, DeriveResult{ID: id})
}

func deriveIdentity(query DeriveQuery) (identity.Identity, error) {
	switch strings.ToLower(strings.TrimSpace(query.Kind)) {
	case "profile":
		owner, err := parseOptionalAddress("owner", query.Owner)
		if err != nil || owner == nil {
			return identity.Identity{}, fmt.Errorf("profile derivation requires a valid owner")
		}
		return identity.ProfileIdentity(*owner), nil
	case "tip":
		profile, err := parseOptionalIdentity("profile", query.Profile)
		if err != nil || profile == nil {
			return identity.Identity{}, fmt.Errorf("tip derivation requires a valid profile")
		}
		tipper, err := parseOptionalAddress("tipper", query.Tipper)
		if err != nil || tipper == nil {
			return identity.Identity{}, fmt.Errorf("tip derivation requires a valid tipper")
		}
		return identity.TipIdentity(*profile, *tipper, query.Count), nil
	case "withdrawal":
		owner, err := parseOptionalAddress("owner", query.Owner)
		if err != nil || owner == nil {
			return identity.Identity{}, fmt.Errorf("withdrawal derivation requires a valid owner")
		}
		return identity.WithdrawalIdentity(*owner, query.Count), nil
	case "custom":
		seeds := make([][]byte, 0, len(query.Seeds))
		for i, raw := range query.Seeds {
			seed, err := hexutil.Decode(raw)
			if err != nil {
				return identity.Identity{}, fmt.Errorf("seed %d: %w", i, err)
			}
			seeds = append(seeds, seed)
		}
		return tipjar.DeriveIdentity([]byte(query.Tag), seeds...)
	default:
		return identity.Identity{}, fmt.Errorf("unknown identity kind %q", query.Kind)
	}
}

func (s *Server) handleGetFees(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	fees := s.ledger.FeeSchedule()
	result := FeesResult{RentPerByte: fees.RentPerByte}
	for kind, dst := range map[tipjar.Kind]*uint64{
		tipjar.KindProfile:    &result.Profile,
		tipjar.KindTip:        &result.Tip,
		tipjar.KindWithdrawal: &result.Withdrawal,
	} {
		fee, err := fees.AllocationFee(kind)
		if err != nil {
			s.writeLedgerError(w, req.ID, err)
			return
		}
		*dst = fee
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "audit log disabled", nil)
		return
	}
	if err := s.auth.authorize(r); err != nil {
		s.metrics.RecordThrottle(rpcModule, "unauthorized")
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "operator token required", err.Error())
		return
	}
	var query AuditQuery
	if err := decodeParam(req, &query, true); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	filter := auditlog.Filter{Limit: query.Limit}
	if signer, err := parseOptionalAddress("signer", query.Signer); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	} else if signer != nil {
		filter.Signer = formatAddress(*signer)
	}
	if profile, err := parseOptionalIdentity("profile", query.Profile); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	} else if profile != nil {
		filter.Profile = profile.String()
	}
	entries, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("audit list failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal error", nil)
		return
	}
	writeResult(w, req.ID, entries)
}
