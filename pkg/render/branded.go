package render

import (
	"fmt"
	"html"
)

// Branded wraps finalized contract content in the agency document shell:
// header with agency identity and document reference, the content body,
// and a footer with the agency's fiscal details. Both the explicit-scope
// provisioning path and the auto-provision path use this single shell.
func Branded(content string, agency Agency, scopeID string) string {
	name := agency.Name
	if name == "" {
		name = "ESTATELY AGENCY"
	}
	vat := orNA(agency.VATCode)
	bank := orNA(agency.BankAccount)

	return fmt.Sprintf(`<div class="contract-wrapper">
  <header class="contract-header">
    <div>
      <h1>%s</h1>
      <p>%s</p>
    </div>
    <div class="contract-ref">
      <p>Legal Document</p>
      <p>REF: %s</p>
    </div>
  </header>
  <div class="contract-body-inner">
%s
  </div>
  <footer class="contract-footer">
    <div>
      <p>Issued By</p>
      <p>%s</p>
      <p>%s</p>
    </div>
    <div>
      <p>Agency Information</p>
      <p>VAT: %s</p>
      <p>Bank: %s</p>
    </div>
  </footer>
</div>`,
		html.EscapeString(name),
		html.EscapeString(agency.Address),
		ReferenceNumber(scopeID),
		content,
		html.EscapeString(agency.Name),
		html.EscapeString(agency.Address),
		html.EscapeString(vat),
		html.EscapeString(bank),
	)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
