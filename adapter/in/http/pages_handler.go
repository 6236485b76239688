package http

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/loopxjstar/Get-Gmails/core/domain"
	"github.com/loopxjstar/Get-Gmails/core/service/auth"
)

// PagesHandler serves the landing and dashboard pages. The dashboard
// embeds its own polling script, no frontend build involved.
type PagesHandler struct {
	auth        *auth.OAuthService
	windowStart domain.MonthKey
	windowEnd   domain.MonthKey
}

func NewPagesHandler(authService *auth.OAuthService, windowStart, windowEnd domain.MonthKey) *PagesHandler {
	return &PagesHandler{auth: authService, windowStart: windowStart, windowEnd: windowEnd}
}

func (h *PagesHandler) Register(app *fiber.App) {
	app.Get("/", h.Landing)
	app.Get("/dashboard", h.Dashboard)
}

func (h *PagesHandler) Landing(c *fiber.Ctx) error {
	notice := ""
	if e := c.Query("error"); e != "" {
		notice = `<p class="error">Sign-in failed. Please try again.</p>`
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(fmt.Sprintf(landingHTML, notice))
}

func (h *PagesHandler) Dashboard(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return c.Redirect("/")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(fmt.Sprintf(dashboardHTML, sess.Email, h.monthOptions()))
}

func (h *PagesHandler) session(c *fiber.Ctx) (*domain.Session, error) {
	id := c.Cookies(SessionCookie)
	if id == "" {
		return nil, fmt.Errorf("no session cookie")
	}
	return h.auth.Session(c.Context(), id)
}

// monthOptions renders one <option> per month in the allowed window.
func (h *PagesHandler) monthOptions() string {
	var b strings.Builder
	for m := h.windowStart; !m.After(h.windowEnd); m = m.Next() {
		fmt.Fprintf(&b, `<option value="%d-%d">%s %d</option>`,
			m.Month, m.Year, titleCase(m.Name()), m.Year)
	}
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

const landingHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Gmail CSV Export</title>
<style>
body{font-family:system-ui,sans-serif;max-width:480px;margin:80px auto;text-align:center}
a.btn{display:inline-block;padding:12px 24px;background:#4285f4;color:#fff;border-radius:6px;text-decoration:none}
.error{color:#c5221f}
</style>
</head>
<body>
<h1>Gmail CSV Export</h1>
<p>Export your sent-mail metadata to CSV, one month at a time.</p>
%s
<a class="btn" href="/auth/login">Sign in with Google</a>
</body>
</html>`

const dashboardHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Gmail CSV Export - Dashboard</title>
<style>
body{font-family:system-ui,sans-serif;max-width:560px;margin:40px auto}
label{display:block;margin-top:12px}
select,button{padding:8px;margin-top:4px}
#bar{width:100%%;background:#eee;border-radius:4px;height:20px;margin-top:16px;display:none}
#fill{height:100%%;width:0;background:#34a853;border-radius:4px;transition:width .3s}
#msg{color:#555;margin-top:8px}
#downloads a{display:block;margin-top:6px}
.error{color:#c5221f}
form.inline{display:inline}
</style>
</head>
<body>
<h1>Export sent mail</h1>
<p>Signed in as <strong>%s</strong>
<form class="inline" method="post" action="/auth/logout"><button type="submit">Sign out</button></form></p>

<label>Month
<select id="month">%s</select></label>
<label>Mode
<select id="mode">
<option value="single">Single month</option>
<option value="combined">Combined (through end of window)</option>
</select></label>
<button id="start">Start export</button>
<button id="cancel" style="display:none">Cancel</button>

<div id="bar"><div id="fill"></div></div>
<p id="msg"></p>
<div id="downloads"></div>

<script>
let jobId = null, timer = null;

document.getElementById('start').onclick = async () => {
  const [month, year] = document.getElementById('month').value.split('-').map(Number);
  const mode = document.getElementById('mode').value;
  const res = await fetch('/api/start-export', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({start_month: month, start_year: year, mode: mode})
  });
  const body = await res.json();
  if (!res.ok) {
    document.getElementById('msg').textContent = (body.error && body.error.message) || 'export failed to start';
    return;
  }
  jobId = body.data.job_id;
  document.getElementById('bar').style.display = 'block';
  document.getElementById('cancel').style.display = 'inline-block';
  document.getElementById('downloads').innerHTML = '';
  timer = setInterval(poll, 1500);
};

document.getElementById('cancel').onclick = async () => {
  if (jobId) await fetch('/api/export/' + jobId + '/cancel', {method: 'POST'});
};

async function poll() {
  const res = await fetch('/api/job-status/' + jobId);
  if (!res.ok) { clearInterval(timer); return; }
  const job = (await res.json()).data;
  document.getElementById('fill').style.width = job.progress + '%%';
  document.getElementById('msg').textContent = job.message;
  if (job.status === 'completed') {
    clearInterval(timer);
    document.getElementById('cancel').style.display = 'none';
    const dl = document.getElementById('downloads');
    job.artifacts.forEach((a, i) => {
      const link = document.createElement('a');
      link.href = '/api/download/' + jobId + '?artifact=' + i;
      link.textContent = 'Download ' + a.filename + ' (' + a.record_count + ' records)';
      dl.appendChild(link);
    });
  } else if (job.status === 'failed') {
    clearInterval(timer);
    document.getElementById('cancel').style.display = 'none';
    document.getElementById('msg').className = 'error';
  }
}
</script>
</body>
</html>`
