package admin

import "net/http"

func serveCSS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write([]byte(`:root{--bg:#f6f7f9;--fg:#1f2328;--line:#d8dce2;--panel:#fff;--accent:#0f766e}
body{font:15px/1.45 system-ui,-apple-system,Segoe UI,sans-serif;margin:0;background:var(--bg);color:var(--fg)}
a{color:var(--accent)} a:hover{text-decoration:none}
header{display:flex;align-items:center;gap:18px;padding:10px 24px;background:var(--panel);border-bottom:1px solid var(--line)}
header nav{display:flex;flex:1;gap:14px} header form{display:inline}
.container{max-width:1080px;margin:0 auto;padding:24px}
table{width:100%;border-collapse:collapse;background:var(--panel)}
th,td{padding:8px 10px;border:1px solid var(--line);vertical-align:top} th{text-align:left;font-weight:600;background:#eef0f3}
.btn{display:inline-block;padding:6px 12px;border:1px solid var(--line);border-radius:4px;background:var(--panel);color:var(--fg);cursor:pointer}
.btn-primary{background:var(--accent);border-color:var(--accent);color:#fff} .btn-danger{background:#c2410c;border-color:#c2410c;color:#fff}
input,select,textarea{width:100%;box-sizing:border-box;padding:6px 8px;border:1px solid var(--line);border-radius:4px;background:#fff;color:var(--fg)}
input[type=checkbox]{width:auto}
.grid{display:grid;gap:18px} .cols-2{grid-template-columns:repeat(2,1fr)}
.card{background:var(--panel);border:1px solid var(--line);border-radius:6px;padding:14px 18px;margin-bottom:18px}
.flash{padding:8px 14px;border-radius:4px;margin-bottom:18px} .flash-ok{background:#dcfce7} .flash-error{background:#fee2e2}
.banner{padding:6px 24px;background:#fef3c7}
h1,h2,h3{margin:10px 0 14px}
.small{color:#656d76;font-size:13px} .mono{font-family:ui-monospace,SFMono-Regular,monospace}
.inline{display:inline}
pre{margin:0;padding:2px 0;font-family:ui-monospace,SFMono-Regular,monospace;white-space:pre}`))
}

func serveJS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write([]byte(`document.addEventListener('submit',function(e){var m=e.target.getAttribute('data-confirm');if(m&&!confirm(m))e.preventDefault()});
async function refreshBoards(el){const r=await fetch('/api/menuboards',{headers:{'Accept':'application/json'}});if(!r.ok)return;const j=await r.json();el.textContent=j.menuBoards.length+' menu boards'}
document.querySelectorAll('[data-board-count]').forEach(refreshBoards);
`))
}
