package notifications

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TemplateKind names a notification template.
type TemplateKind string

const (
	// TemplateOrderConfirmation thanks the customer once their payment settles.
	TemplateOrderConfirmation TemplateKind = "order-confirmation"
	// TemplateAdminOrderPaid alerts staff that an order is ready for production.
	TemplateAdminOrderPaid TemplateKind = "admin-order-paid"
)

// Message is a rendered notification ready for dispatch.
type Message struct {
	DispatchID string            `json:"dispatchId"`
	Kind       TemplateKind      `json:"kind"`
	To         string            `json:"to"`
	Locale     string            `json:"locale"`
	Subject    string            `json:"subject"`
	HTMLBody   string            `json:"htmlBody"`
	OrderID    string            `json:"orderId"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// templateData feeds the HTML templates. All customer-controlled strings are
// sanitised before they reach a template.
type templateData struct {
	CustomerName   string
	OrderNumber    string
	FormattedTotal string
}

var strictPolicy = bluemonday.StrictPolicy()

var confirmationSubjects = map[string]string{
	"es": "Gracias por tu compra, pedido %s confirmado",
	"en": "Thank you for your purchase, order %s confirmed",
}

var adminSubjects = map[string]string{
	"es": "Pedido %s pagado, listo para taller",
	"en": "Order %s paid, ready for the workshop",
}

var confirmationBodies = map[string]*template.Template{
	"es": template.Must(template.New("order-confirmation-es").Parse(`<p>Hola {{.CustomerName}},</p>
<p>Recibimos tu pago por el pedido <strong>{{.OrderNumber}}</strong> por un total de {{.FormattedTotal}}.</p>
<p>Nuestro taller comenzará a trabajar en tus piezas. Te avisaremos cuando tu pedido esté en camino.</p>
<p>Atelier Áurea</p>`)),
	"en": template.Must(template.New("order-confirmation-en").Parse(`<p>Hello {{.CustomerName}},</p>
<p>We received your payment for order <strong>{{.OrderNumber}}</strong> totalling {{.FormattedTotal}}.</p>
<p>Our workshop will start crafting your pieces. We will let you know once your order ships.</p>
<p>Atelier Áurea</p>`)),
}

var adminBodies = map[string]*template.Template{
	"es": template.Must(template.New("admin-order-paid-es").Parse(`<p>El pedido <strong>{{.OrderNumber}}</strong> de {{.CustomerName}} fue pagado ({{.FormattedTotal}}).</p>
<p>Ya puede pasar a producción.</p>`)),
	"en": template.Must(template.New("admin-order-paid-en").Parse(`<p>Order <strong>{{.OrderNumber}}</strong> from {{.CustomerName}} has been paid ({{.FormattedTotal}}).</p>
<p>It can move to production.</p>`)),
}

// renderTemplate resolves the subject and body for the template kind in the
// requested locale, falling back to Spanish for unknown locales.
func renderTemplate(kind TemplateKind, locale string, data templateData) (subject, body string, err error) {
	lang := languageFor(locale)

	data.CustomerName = sanitize(data.CustomerName)
	data.OrderNumber = sanitize(data.OrderNumber)

	var subjects map[string]string
	var bodies map[string]*template.Template
	switch kind {
	case TemplateOrderConfirmation:
		subjects, bodies = confirmationSubjects, confirmationBodies
	case TemplateAdminOrderPaid:
		subjects, bodies = adminSubjects, adminBodies
	default:
		return "", "", fmt.Errorf("notifications: unknown template kind %q", kind)
	}

	subject = fmt.Sprintf(subjects[lang], data.OrderNumber)

	var rendered strings.Builder
	if err := bodies[lang].Execute(&rendered, data); err != nil {
		return "", "", fmt.Errorf("notifications: render %s (%s): %w", kind, lang, err)
	}
	return subject, rendered.String(), nil
}

func languageFor(locale string) string {
	lang := strings.ToLower(strings.TrimSpace(locale))
	if idx := strings.IndexAny(lang, "-_"); idx > 0 {
		lang = lang[:idx]
	}
	if lang == "en" {
		return "en"
	}
	return "es"
}

func sanitize(value string) string {
	return strings.TrimSpace(strictPolicy.Sanitize(value))
}
